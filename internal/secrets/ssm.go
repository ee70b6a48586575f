// Package secrets resolves SecureString parameters from SSM Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

var ErrEmptyParameter = errors.New("secrets: parameter has no value")

type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

var _ SSMAPI = (*ssm.Client)(nil)

// Resolver caches decrypted values for the life of the Lambda container.
type Resolver struct {
	client SSMAPI

	mu    sync.Mutex
	cache map[string]string
}

func NewResolver(client SSMAPI) *Resolver {
	return &Resolver{client: client, cache: make(map[string]string)}
}

// Value returns literal when param is empty, otherwise the decrypted value of
// the named parameter.
func (r *Resolver) Value(ctx context.Context, literal, param string) (string, error) {
	param = strings.TrimSpace(param)
	if param == "" {
		return literal, nil
	}
	return r.Get(ctx, param)
}

func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	if v, ok := r.cache[name]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get %s: %w", name, err)
	}
	if out.Parameter == nil || strings.TrimSpace(aws.ToString(out.Parameter.Value)) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyParameter, name)
	}

	v := aws.ToString(out.Parameter.Value)
	r.mu.Lock()
	r.cache[name] = v
	r.mu.Unlock()
	return v, nil
}
