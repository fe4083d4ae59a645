// Package creds loads the object store identity from the three-line
// key=value credentials file:
//
//	aws_s3_path=<bucket>
//	aws_access_key=<key id>
//	aws_secret_key=<secret>
package creds

import (
	"fmt"
	"os"
	"strings"

	"github.com/weatherlab/netatmo-etl/etl"
)

// LoadAWSKeys parses the credentials file at path.
func LoadAWSKeys(path string) (etl.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return etl.Credentials{}, fmt.Errorf("AWS identity could not be loaded: %w", err)
	}

	var creds etl.Credentials
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return etl.Credentials{}, fmt.Errorf("malformed credentials line: %q", line)
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "aws_s3_path":
			creds.Bucket = value
		case "aws_access_key":
			creds.AccessKey = value
		case "aws_secret_key":
			creds.SecretKey = value
		}
	}
	if creds.Bucket == "" || creds.AccessKey == "" || creds.SecretKey == "" {
		return etl.Credentials{}, fmt.Errorf("incomplete credentials in %s", path)
	}
	return creds, nil
}

// FileProvider implements etl.CredentialsProvider by re-reading the file
// on every call, so key rotation does not require a restart.
type FileProvider struct {
	Path string
}

// AWSKeys implements etl.CredentialsProvider.
func (p FileProvider) AWSKeys() (etl.Credentials, error) {
	return LoadAWSKeys(p.Path)
}

// Static is a fixed credentials snapshot, mostly for tests.
type Static etl.Credentials

// AWSKeys implements etl.CredentialsProvider.
func (s Static) AWSKeys() (etl.Credentials, error) {
	return etl.Credentials(s), nil
}
