// Package dispatch owns the credential-failover state machine. It tries a
// request against each candidate credential set in randomized order and
// applies uniform success/failure semantics for unary and streaming calls.
package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"

	log "github.com/sirupsen/logrus"

	"github.com/relayforge/bedrock-gateway/internal/auth"
)

// Request is one normalized backend invocation bound to a credential.
type Request struct {
	Payload    []byte
	Model      string
	Region     string
	Credential auth.CredentialSet
}

// StreamChunk is one upstream chunk or the error that ended the stream.
type StreamChunk struct {
	Payload []byte
	Err     error
}

// Invoker is the model-invocation collaborator. InvokeStream must return as
// soon as the upstream stream handle is obtained; chunk errors travel on the
// channel, not the error return.
type Invoker interface {
	Invoke(ctx context.Context, req Request) ([]byte, error)
	InvokeStream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// AllFailedError reports that every credential attempt failed. Only the
// most recent failure is retained; earlier ones are logged and discarded.
type AllFailedError struct {
	Attempts int
	LastErr  error
}

func (e *AllFailedError) Error() string {
	if e.LastErr == nil {
		return "All credential attempts failed: no credentials available"
	}
	return fmt.Sprintf("All credential attempts failed. Last error: %v", e.LastErr)
}

func (e *AllFailedError) Unwrap() error { return e.LastErr }

// Dispatcher drives sequential credential attempts against one Invoker.
// Attempts are never concurrent: the goal is fallback, not racing.
type Dispatcher struct {
	invoker Invoker

	// shuffle randomizes the attempt order; overridable in tests.
	shuffle func([]auth.CredentialSet)
}

// New creates a Dispatcher around the given invocation client.
func New(invoker Invoker) *Dispatcher {
	return &Dispatcher{
		invoker: invoker,
		shuffle: func(creds []auth.CredentialSet) {
			rand.Shuffle(len(creds), func(i, j int) {
				creds[i], creds[j] = creds[j], creds[i]
			})
		},
	}
}

// Dispatch performs a unary invocation, falling back across credentials
// until one succeeds. The returned payload is always from a single attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, creds []auth.CredentialSet) ([]byte, error) {
	order := d.order(creds)

	var lastErr error
	attempts := 0
	for _, cred := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++
		attempt := req
		attempt.Credential = cred
		log.Infof("dispatch: chat completion using key %s for model %s", cred.KeyTag(), req.Model)

		payload, err := d.invoker.Invoke(ctx, attempt)
		if err == nil {
			return payload, nil
		}
		log.Errorf("dispatch: attempt with key %s failed: %v", cred.KeyTag(), err)
		lastErr = err
	}

	err := &AllFailedError{Attempts: attempts, LastErr: lastErr}
	log.Errorf("dispatch: %v", err)
	return nil, err
}

// DispatchStream opens an upstream stream, falling back across credentials.
// An attempt counts as successful once the stream handle is obtained;
// failures after that point belong to the relay and are never retried here,
// because the outbound transport has already committed to a response.
func (d *Dispatcher) DispatchStream(ctx context.Context, req Request, creds []auth.CredentialSet) (<-chan StreamChunk, error) {
	order := d.order(creds)

	var lastErr error
	attempts := 0
	for _, cred := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++
		attempt := req
		attempt.Credential = cred
		log.Infof("dispatch: streaming chat completion using key %s for model %s", cred.KeyTag(), req.Model)

		chunks, err := d.invoker.InvokeStream(ctx, attempt)
		if err == nil {
			return chunks, nil
		}
		log.Errorf("dispatch: stream open with key %s failed: %v", cred.KeyTag(), err)
		lastErr = err
	}

	err := &AllFailedError{Attempts: attempts, LastErr: lastErr}
	log.Errorf("dispatch: %v", err)
	return nil, err
}

// order returns a shuffled copy of the credential list. Fresh randomness
// per request spreads load across equally-valid credentials; it is not a
// fairness guarantee.
func (d *Dispatcher) order(creds []auth.CredentialSet) []auth.CredentialSet {
	order := make([]auth.CredentialSet, len(creds))
	copy(order, creds)
	d.shuffle(order)
	return order
}
