/*
Command labportal runs the lab portal and its operator tooling.

	labportal serve --store dynamodb://HPCLab?region=us-west-2 --kms aws-kms://alias/hpclab
	labportal hook --event event.json
	labportal event put --file events.yaml
	labportal event push --server https://lab.example.com --otp $OTP -f events.yaml
	labportal event show --event-id ws1
	labportal keygen --bits 2048

Every flag can also be set through the environment variable named in
its help text.
*/
package main
