// Package cloudauth provides http.RoundTripper decorators that sign or
// authenticate outbound requests for the model-asset installer: AWS SigV4
// for a private S3 bucket, GCP OAuth2 via Application Default Credentials
// for Cloud Storage.
package cloudauth
