package instances

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dacut/hpc-lab-maker/cryptoutils"
	"github.com/dacut/hpc-lab-maker/identity"
)

func TestRenderBootScript(t *testing.T) {
	keys, err := cryptoutils.NewRSAKeyGenerator().GenerateKeyPair(context.Background(), "a@example.com", 1024)
	require.NoError(t, err)

	script, err := renderBootScript("us-west-2b", "fs-1234abcd", 1005, `Ada "$(reboot)" Lovelace`, string(keys.PublicKey))
	require.NoError(t, err)

	assert.Contains(t, script, "mount -t nfs4 -o nfsvers=4.1,rsize=1048576,wsize=1048576,hard,timeo=600,retrans=2 us-west-2b.fs-1234abcd.efs.us-west-2.amazonaws.com:/ /efshome\n")
	assert.Contains(t, script, "groupadd --gid 1005 lab1005\n")
	assert.Contains(t, script, "--gid 1005 --uid 1005 lab1005\n")
	assert.Contains(t, script, "echo 'lab1005 ALL=(ALL) NOPASSWD: ALL' >> /etc/sudoers\n")
	assert.Contains(t, script, "chown -R lab1005:lab1005 /efshome/lab1005\n")
	assert.Contains(t, script, `--comment "Ada (reboot) Lovelace"`)
	assert.NotContains(t, script, "$(")
}

func TestRenderBootScript_DropsKeyComment(t *testing.T) {
	email := "`reboot`$HOME@example.com"
	require.NoError(t, identity.ValidateRegistration(identity.RegisterRequest{
		Email:          email,
		Password:       "Sup3r-Secret",
		PasswordVerify: "Sup3r-Secret",
		FullName:       "Mallory",
		EventID:        "ws1",
	}))

	keys, err := cryptoutils.NewRSAKeyGenerator().GenerateKeyPair(context.Background(), email, 1024)
	require.NoError(t, err)
	require.Contains(t, string(keys.PublicKey), "`reboot`")

	script, err := renderBootScript("us-west-2b", "fs-1234abcd", 1005, "Mallory", string(keys.PublicKey))
	require.NoError(t, err)

	assert.NotContains(t, script, "`")
	assert.NotContains(t, script, "$")
	assert.NotContains(t, script, "example.com")
	assert.Contains(t, script, "authorized_keys << '.EOF'\nssh-rsa ")

	data, err := cryptoutils.PublicKeyData(keys.PublicKey)
	require.NoError(t, err)
	assert.Contains(t, script, "\n"+data+"\n.EOF\n")
}

func TestRenderBootScript_RejectsBadInputs(t *testing.T) {
	keys, err := cryptoutils.NewRSAKeyGenerator().GenerateKeyPair(context.Background(), "a@example.com", 1024)
	require.NoError(t, err)

	_, err = renderBootScript("us-west-2b", "fs-1", 5, "A", "ssh-rsa AAAA\n.EOF\nrm -rf /")
	assert.Error(t, err)

	_, err = renderBootScript("", "fs-1", 5, "A", string(keys.PublicKey))
	assert.ErrorIs(t, err, errInvalidBootParams)

	_, err = renderBootScript("us-west-2b", "fs-1", 0, "A", string(keys.PublicKey))
	assert.ErrorIs(t, err, errInvalidBootParams)
}
