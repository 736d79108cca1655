/*
Package httpserver serves the lab portal's JSON API.

# Portal API

	POST /api/login            {email, password, event_id} -> session cookie + CSRF token
	POST /api/register         registration form -> session cookie + CSRF token
	POST /api/logout           clears the session cookie
	GET  /api/dashboard        user record and reconciled instance status
	POST /api/ec2              {action: Launch|Terminate|Start|Stop|Reboot}
	GET  /api/ec2/screenshot   console screenshot (image/jpeg)
	GET  /api/ssh-key          private key as a PEM attachment

Every route except login, register and logout requires a session. POST
routes behind a session also require the X-CSRF-Token header.

# Admin API

	PUT /admin/events/{event_id}   create or update an event's defaults
	GET /admin/events/{event_id}   read an event

Admin requests carry the deployment's one-time password as a bearer token.

# Health

	GET /livez, /readyz, /drain, /undrain

pprof is mounted under /debug when enabled.
*/
package httpserver
