package voice

import (
	"fmt"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const googleAPIEndpointPort = 443

type GoogleConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

// googleClientOptions authenticates with the configured service account JSON and, for
// regional locations, targets the regional endpoint of service (e.g. "speech").
func googleClientOptions(cfg GoogleConfig, service string) ([]option.ClientOption, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(cfg.CredentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}
	opts := []option.ClientOption{option.WithAuthCredentials(creds)}
	location := strings.TrimSpace(cfg.Location)
	if service != "" && location != "" && location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-%s.googleapis.com:%d", location, service, googleAPIEndpointPort)))
	}
	return opts, nil
}

// isInvalidAudio reports whether Google rejected the request because of its audio
// content rather than a transport or quota problem.
func isInvalidAudio(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	return st.Code() == codes.InvalidArgument || st.Code() == codes.OutOfRange
}

func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
