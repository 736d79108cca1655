package interfaces

import (
	"time"
)

// ReservedEventID is the event record holding deployment-wide state (the
// session secret and the bootstrap one-time password). It never names a real event.
const ReservedEventID = "_"

// Event attribute names as persisted by every credential store backend.
const (
	EventFieldEventID              = "EventId"
	EventFieldEventName            = "EventName"
	EventFieldNextUID              = "NextUID"
	EventFieldAllowedSubnets       = "AllowedSubnets"
	EventFieldDefaultAMI           = "DefaultAMI"
	EventFieldDefaultInstanceType  = "DefaultInstanceType"
	EventFieldDefaultSecurityGroup = "DefaultSecurityGroup"
	EventFieldDefaultVolumeSize    = "DefaultVolumeSize"
	EventFieldEFSID                = "EFSId"
	EventFieldAdminSSHKey          = "AdminSSHKey"
	EventFieldSecretKey            = "SecretKey"
	EventFieldOneTimePasswordHash  = "OneTimePasswordHash"
)

// User attribute names as persisted by every credential store backend.
const (
	UserFieldEmail         = "Email"
	UserFieldEventID       = "EventId"
	UserFieldPasswordHash  = "PasswordHash"
	UserFieldFullName      = "FullName"
	UserFieldAllowContact  = "AllowContact"
	UserFieldCreationDate  = "CreationDate"
	UserFieldSSHPrivateKey = "SSHPrivateKey"
	UserFieldSSHPublicKey  = "SSHPublicKey"
	UserFieldUserID        = "UserId"
	UserFieldInstanceID    = "InstanceId"
)

// Event is a lab or training session with its own provisioning defaults
// and user namespace.
//
// NextUID only ever increases; a value handed out to a registration is never
// reused even if that registration loses a race.
type Event struct {
	EventID              string   `dynamodbav:"EventId" json:"event_id" yaml:"event_id"`
	EventName            string   `dynamodbav:"EventName,omitempty" json:"event_name,omitempty" yaml:"event_name"`
	NextUID              int64    `dynamodbav:"NextUID" json:"next_uid" yaml:"next_uid"`
	AllowedSubnets       []string `dynamodbav:"AllowedSubnets,stringset,omitempty" json:"allowed_subnets,omitempty" yaml:"allowed_subnets"`
	DefaultAMI           string   `dynamodbav:"DefaultAMI,omitempty" json:"default_ami,omitempty" yaml:"default_ami"`
	DefaultInstanceType  string   `dynamodbav:"DefaultInstanceType,omitempty" json:"default_instance_type,omitempty" yaml:"default_instance_type"`
	DefaultSecurityGroup string   `dynamodbav:"DefaultSecurityGroup,omitempty" json:"default_security_group,omitempty" yaml:"default_security_group"`
	DefaultVolumeSize    int64    `dynamodbav:"DefaultVolumeSize,omitempty" json:"default_volume_size,omitempty" yaml:"default_volume_size"`
	EFSID                string   `dynamodbav:"EFSId,omitempty" json:"efs_id,omitempty" yaml:"efs_id"`
	AdminSSHKey          string   `dynamodbav:"AdminSSHKey,omitempty" json:"admin_ssh_key,omitempty" yaml:"admin_ssh_key"`

	// SecretKey is the base64 KMS ciphertext of the session signing key.
	// Only populated on the reserved record.
	SecretKey string `dynamodbav:"SecretKey,omitempty" json:"-" yaml:"-"`

	// OneTimePasswordHash is the pbkdf2 hash of the bootstrap password.
	// Only populated on the reserved record.
	OneTimePasswordHash string `dynamodbav:"OneTimePasswordHash,omitempty" json:"-" yaml:"-"`
}

// Provisionable reports whether the event carries every default needed to
// launch an instance.
func (e *Event) Provisionable() bool {
	return len(e.AllowedSubnets) > 0 &&
		e.DefaultAMI != "" &&
		e.DefaultInstanceType != "" &&
		e.DefaultSecurityGroup != "" &&
		e.DefaultVolumeSize > 0 &&
		e.EFSID != ""
}

// User is one enrollment of an email address in exactly one event.
type User struct {
	Email         string    `dynamodbav:"Email" json:"email"`
	EventID       string    `dynamodbav:"EventId" json:"event_id"`
	PasswordHash  string    `dynamodbav:"PasswordHash,omitempty" json:"-"`
	FullName      string    `dynamodbav:"FullName" json:"full_name"`
	AllowContact  bool      `dynamodbav:"AllowContact" json:"allow_contact"`
	CreationDate  time.Time `dynamodbav:"CreationDate,unixtime" json:"creation_date"`
	SSHPrivateKey string    `dynamodbav:"SSHPrivateKey" json:"-"`
	SSHPublicKey  string    `dynamodbav:"SSHPublicKey" json:"ssh_public_key"`
	UserID        int64     `dynamodbav:"UserId" json:"user_id"`
	InstanceID    string    `dynamodbav:"InstanceId,omitempty" json:"instance_id,omitempty"`
}

// HasInstance reports whether the user currently tracks a compute instance.
func (u *User) HasInstance() bool {
	return u.InstanceID != ""
}

// Copy returns a shallow copy of the user record.
func (u *User) Copy() *User {
	c := *u
	return &c
}

// WithoutPasswordHash returns a copy of the user with the password hash removed.
func (u *User) WithoutPasswordHash() *User {
	c := u.Copy()
	c.PasswordHash = ""
	return c
}
