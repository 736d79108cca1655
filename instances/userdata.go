package instances

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/dacut/hpc-lab-maker/cryptoutils"
)

var errInvalidBootParams = errors.New("invalid boot script parameters")

const nfsOptions = "nfsvers=4.1,rsize=1048576,wsize=1048576,hard,timeo=600,retrans=2"

var bootScript = template.Must(template.New("userdata").Parse(`#!/bin/bash
yum install -y nfs-utils
setsebool -P use_nfs_home_dirs 1 || true
mkdir /efshome
mount -t nfs4 -o {{.NFSOptions}} {{.EFSHost}}:/ /efshome
echo {{.EFSHost}}:/ /efshome nfs {{.NFSOptions}} 0 0 >> /etc/fstab
mkdir -p /efshome/{{.Login}}/.ssh
ln -s /efshome/{{.Login}} /home/{{.Login}}
groupadd --gid {{.UserID}} {{.Login}}
useradd --base-dir /home --comment "{{.FullName}}" --create-home --gid {{.UserID}} --uid {{.UserID}} {{.Login}}
echo '{{.Login}} ALL=(ALL) NOPASSWD: ALL' >> /etc/sudoers
cat >> /home/{{.Login}}/.ssh/authorized_keys << '.EOF'
{{.PublicKey}}
.EOF
chmod 0755 /efshome/{{.Login}}/.ssh
chmod 0644 /efshome/{{.Login}}/.ssh/authorized_keys
chown -R {{.Login}}:{{.Login}} /efshome/{{.Login}}
`))

// bootParams are the values substituted into the boot script. Every field
// has been reduced to a known-safe alphabet before rendering; PublicKey is
// the bare key type and base64 blob.
type bootParams struct {
	NFSOptions string
	EFSHost    string
	Login      string
	UserID     int64
	FullName   string
	PublicKey  string
}

// renderBootScript builds the user data that mounts the event's shared
// filesystem in the instance's availability zone and creates the user's
// account with uid = gid = userID.
func renderBootScript(availabilityZone, efsID string, userID int64, fullName, publicKey string) (string, error) {
	az := cryptoutils.SanitizeIdentifier(availabilityZone)
	efs := cryptoutils.SanitizeIdentifier(efsID)
	if len(az) < 2 || efs == "" || userID <= 0 {
		return "", fmt.Errorf("%w: az=%q efs=%q uid=%d", errInvalidBootParams, availabilityZone, efsID, userID)
	}

	key, err := cryptoutils.PublicKeyData([]byte(strings.TrimSpace(publicKey)))
	if err != nil {
		return "", err
	}

	// The region is the zone name without its trailing letter
	region := az[:len(az)-1]

	params := bootParams{
		NFSOptions: nfsOptions,
		EFSHost:    fmt.Sprintf("%s.%s.efs.%s.amazonaws.com", az, efs, region),
		Login:      fmt.Sprintf("lab%d", userID),
		UserID:     userID,
		FullName:   cryptoutils.SanitizeFullName(fullName),
		PublicKey:  key,
	}

	var buf bytes.Buffer
	if err := bootScript.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("failed to render boot script: %w", err)
	}
	return buf.String(), nil
}
