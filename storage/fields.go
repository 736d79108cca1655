package storage

import (
	"fmt"
	"time"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

// Attributes a partial update may touch. Key attributes are never updatable.
var (
	eventFields = map[string]string{
		interfaces.EventFieldEventName:            "event_name",
		interfaces.EventFieldNextUID:              "next_uid",
		interfaces.EventFieldAllowedSubnets:       "allowed_subnets",
		interfaces.EventFieldDefaultAMI:           "default_ami",
		interfaces.EventFieldDefaultInstanceType:  "default_instance_type",
		interfaces.EventFieldDefaultSecurityGroup: "default_security_group",
		interfaces.EventFieldDefaultVolumeSize:    "default_volume_size",
		interfaces.EventFieldEFSID:                "efs_id",
		interfaces.EventFieldAdminSSHKey:          "admin_ssh_key",
		interfaces.EventFieldSecretKey:            "secret_key",
		interfaces.EventFieldOneTimePasswordHash:  "one_time_password_hash",
	}

	userFields = map[string]string{
		interfaces.UserFieldPasswordHash:  "password_hash",
		interfaces.UserFieldFullName:      "full_name",
		interfaces.UserFieldAllowContact:  "allow_contact",
		interfaces.UserFieldCreationDate:  "creation_date",
		interfaces.UserFieldSSHPrivateKey: "ssh_private_key",
		interfaces.UserFieldSSHPublicKey:  "ssh_public_key",
		interfaces.UserFieldUserID:        "user_id",
		interfaces.UserFieldInstanceID:    "instance_id",
	}
)

func eventColumn(field string) (string, error) {
	col, ok := eventFields[field]
	if !ok {
		return "", fmt.Errorf("%w: event attribute %q", interfaces.ErrUnknownField, field)
	}
	return col, nil
}

func userColumn(field string) (string, error) {
	col, ok := userFields[field]
	if !ok {
		return "", fmt.Errorf("%w: user attribute %q", interfaces.ErrUnknownField, field)
	}
	return col, nil
}

func valueTypeError(field string, value interface{}) error {
	return fmt.Errorf("attribute %s: unsupported value type %T", field, value)
}

func asString(field string, value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", valueTypeError(field, value)
	}
	return s, nil
}

func asInt64(field string, value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	}
	return 0, valueTypeError(field, value)
}

// setEventField assigns one attribute of an in-memory event record.
func setEventField(e *interfaces.Event, field string, value interface{}) error {
	var err error
	switch field {
	case interfaces.EventFieldEventName:
		e.EventName, err = asString(field, value)
	case interfaces.EventFieldNextUID:
		e.NextUID, err = asInt64(field, value)
	case interfaces.EventFieldAllowedSubnets:
		subnets, ok := value.([]string)
		if !ok {
			return valueTypeError(field, value)
		}
		e.AllowedSubnets = append([]string(nil), subnets...)
	case interfaces.EventFieldDefaultAMI:
		e.DefaultAMI, err = asString(field, value)
	case interfaces.EventFieldDefaultInstanceType:
		e.DefaultInstanceType, err = asString(field, value)
	case interfaces.EventFieldDefaultSecurityGroup:
		e.DefaultSecurityGroup, err = asString(field, value)
	case interfaces.EventFieldDefaultVolumeSize:
		e.DefaultVolumeSize, err = asInt64(field, value)
	case interfaces.EventFieldEFSID:
		e.EFSID, err = asString(field, value)
	case interfaces.EventFieldAdminSSHKey:
		e.AdminSSHKey, err = asString(field, value)
	case interfaces.EventFieldSecretKey:
		e.SecretKey, err = asString(field, value)
	case interfaces.EventFieldOneTimePasswordHash:
		e.OneTimePasswordHash, err = asString(field, value)
	default:
		return fmt.Errorf("%w: event attribute %q", interfaces.ErrUnknownField, field)
	}
	return err
}

// eventFieldPresent reports whether an in-memory event carries a non-zero attribute.
func eventFieldPresent(e *interfaces.Event, field string) bool {
	switch field {
	case interfaces.EventFieldEventName:
		return e.EventName != ""
	case interfaces.EventFieldNextUID:
		return true
	case interfaces.EventFieldAllowedSubnets:
		return len(e.AllowedSubnets) > 0
	case interfaces.EventFieldDefaultAMI:
		return e.DefaultAMI != ""
	case interfaces.EventFieldDefaultInstanceType:
		return e.DefaultInstanceType != ""
	case interfaces.EventFieldDefaultSecurityGroup:
		return e.DefaultSecurityGroup != ""
	case interfaces.EventFieldDefaultVolumeSize:
		return e.DefaultVolumeSize != 0
	case interfaces.EventFieldEFSID:
		return e.EFSID != ""
	case interfaces.EventFieldAdminSSHKey:
		return e.AdminSSHKey != ""
	case interfaces.EventFieldSecretKey:
		return e.SecretKey != ""
	case interfaces.EventFieldOneTimePasswordHash:
		return e.OneTimePasswordHash != ""
	}
	return false
}

func clearEventField(e *interfaces.Event, field string) {
	switch field {
	case interfaces.EventFieldEventName:
		e.EventName = ""
	case interfaces.EventFieldNextUID:
		e.NextUID = 0
	case interfaces.EventFieldAllowedSubnets:
		e.AllowedSubnets = nil
	case interfaces.EventFieldDefaultAMI:
		e.DefaultAMI = ""
	case interfaces.EventFieldDefaultInstanceType:
		e.DefaultInstanceType = ""
	case interfaces.EventFieldDefaultSecurityGroup:
		e.DefaultSecurityGroup = ""
	case interfaces.EventFieldDefaultVolumeSize:
		e.DefaultVolumeSize = 0
	case interfaces.EventFieldEFSID:
		e.EFSID = ""
	case interfaces.EventFieldAdminSSHKey:
		e.AdminSSHKey = ""
	case interfaces.EventFieldSecretKey:
		e.SecretKey = ""
	case interfaces.EventFieldOneTimePasswordHash:
		e.OneTimePasswordHash = ""
	}
}

// setUserField assigns one attribute of an in-memory user record.
func setUserField(u *interfaces.User, field string, value interface{}) error {
	var err error
	switch field {
	case interfaces.UserFieldPasswordHash:
		u.PasswordHash, err = asString(field, value)
	case interfaces.UserFieldFullName:
		u.FullName, err = asString(field, value)
	case interfaces.UserFieldAllowContact:
		b, ok := value.(bool)
		if !ok {
			return valueTypeError(field, value)
		}
		u.AllowContact = b
	case interfaces.UserFieldCreationDate:
		ts, ok := value.(time.Time)
		if !ok {
			return valueTypeError(field, value)
		}
		u.CreationDate = ts
	case interfaces.UserFieldSSHPrivateKey:
		u.SSHPrivateKey, err = asString(field, value)
	case interfaces.UserFieldSSHPublicKey:
		u.SSHPublicKey, err = asString(field, value)
	case interfaces.UserFieldUserID:
		u.UserID, err = asInt64(field, value)
	case interfaces.UserFieldInstanceID:
		u.InstanceID, err = asString(field, value)
	default:
		return fmt.Errorf("%w: user attribute %q", interfaces.ErrUnknownField, field)
	}
	return err
}

func clearUserField(u *interfaces.User, field string) {
	switch field {
	case interfaces.UserFieldPasswordHash:
		u.PasswordHash = ""
	case interfaces.UserFieldFullName:
		u.FullName = ""
	case interfaces.UserFieldAllowContact:
		u.AllowContact = false
	case interfaces.UserFieldCreationDate:
		u.CreationDate = time.Time{}
	case interfaces.UserFieldSSHPrivateKey:
		u.SSHPrivateKey = ""
	case interfaces.UserFieldSSHPublicKey:
		u.SSHPublicKey = ""
	case interfaces.UserFieldUserID:
		u.UserID = 0
	case interfaces.UserFieldInstanceID:
		u.InstanceID = ""
	}
}

// mergeEventDefaults copies the provisioning defaults of src onto dst and
// raises dst.NextUID to src.NextUID. Deployment secrets are left alone.
func mergeEventDefaults(dst, src *interfaces.Event) {
	dst.EventName = src.EventName
	dst.AllowedSubnets = append([]string(nil), src.AllowedSubnets...)
	dst.DefaultAMI = src.DefaultAMI
	dst.DefaultInstanceType = src.DefaultInstanceType
	dst.DefaultSecurityGroup = src.DefaultSecurityGroup
	dst.DefaultVolumeSize = src.DefaultVolumeSize
	dst.EFSID = src.EFSID
	dst.AdminSSHKey = src.AdminSSHKey
	if src.NextUID > dst.NextUID {
		dst.NextUID = src.NextUID
	}
}
