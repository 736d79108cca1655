package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dacut/hpc-lab-maker/bootstrap"
	"github.com/dacut/hpc-lab-maker/interfaces"
)

func adminAuth(t *testing.T, env *testEnv) map[string]string {
	res, err := env.provisioner.Handle(context.Background(), bootstrap.RequestCreate)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + res.Password}
}

func TestAdmin_RequiresOneTimePassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/admin/events/ws1", nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// No password provisioned yet
	rec = env.do(http.MethodGet, "/admin/events/ws1", nil, nil, map[string]string{"Authorization": "Bearer guess"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	adminAuth(t, env)
	rec = env.do(http.MethodGet, "/admin/events/ws1", nil, nil, map[string]string{"Authorization": "Bearer guess"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_PutAndGetEvent(t *testing.T) {
	env := newTestEnv(t)
	auth := adminAuth(t, env)

	body := map[string]interface{}{
		"event_name":             "Workshop",
		"next_uid":               1,
		"allowed_subnets":        []string{"subnet-a"},
		"default_ami":            "ami-123",
		"default_instance_type":  "c5.large",
		"default_security_group": "sg-1",
		"default_volume_size":    40,
		"efs_id":                 "fs-1",
	}

	rec := env.do(http.MethodPut, "/admin/events/ws1", body, nil, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var event interfaces.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.Equal(t, "ws1", event.EventID)
	assert.Equal(t, "ami-123", event.DefaultAMI)
	// Seeded at 5; a lower value never rewinds the counter
	assert.Equal(t, int64(5), event.NextUID)

	rec = env.do(http.MethodGet, "/admin/events/ws1", nil, nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"efs_id":"fs-1"`)

	rec = env.do(http.MethodGet, "/admin/events/missing", nil, nil, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_ReservedEvent(t *testing.T) {
	env := newTestEnv(t)
	auth := adminAuth(t, env)

	rec := env.do(http.MethodGet, "/admin/events/_", nil, nil, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pbkdf2")

	rec = env.do(http.MethodPut, "/admin/events/_", map[string]interface{}{"next_uid": 1}, nil, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
