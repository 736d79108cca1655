/*
Package clients provides client libraries for the portal's HTTP APIs.

# AdminClient

AdminClient talks to the /admin routes of a running portal, authenticating
with the one-time administrator password produced when the deployment stack
was created:

	client := clients.NewAdminClient("https://lab.example.com", otp)
	stored, err := client.PutEvent(ctx, &interfaces.Event{
		EventID:             "ws1",
		DefaultAMI:          "ami-0123456789abcdef0",
		DefaultInstanceType: "c5.large",
	})

Status codes are mapped back to errors: 401 becomes ErrUnauthorized and 404
becomes interfaces.ErrNotFound. Any other non-200 response carries the
server's error message.
*/
package clients
