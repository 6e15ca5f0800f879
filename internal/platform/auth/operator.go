package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/framefox/foxconnect/internal/platform/httpx"
)

// Operator is the verified principal calling the internal order routes.
type Operator struct {
	Subject string
	Email   string
	Issuer  string
}

// ActorID names the operator on activity records, preferring the email claim.
func (o Operator) ActorID() string {
	if email := strings.TrimSpace(o.Email); email != "" {
		return email
	}
	return strings.TrimSpace(o.Subject)
}

type operatorContextKey struct{}

// WithOperator stores the verified operator on ctx.
func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, op)
}

// OperatorFromContext returns the operator attached by RequireOperator.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorContextKey{}).(Operator)
	return op, ok
}

// OperatorVerifier validates Google-signed identity tokens presented to the internal routes.
type OperatorVerifier struct {
	keys     *KeySet
	audience string
	issuers  map[string]struct{}
	logger   *zap.Logger
	outcomes metric.Int64Counter
}

// VerifierOption customises an OperatorVerifier.
type VerifierOption func(*OperatorVerifier)

// WithVerifierLogger sets the logger used for rejected tokens.
func WithVerifierLogger(logger *zap.Logger) VerifierOption {
	return func(v *OperatorVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithVerifierMeter overrides the meter recording verification outcomes.
func WithVerifierMeter(meter metric.Meter) VerifierOption {
	return func(v *OperatorVerifier) {
		if meter != nil {
			v.outcomes = outcomeCounter(meter)
		}
	}
}

// NewOperatorVerifier requires tokens signed by keys, addressed to audience, and issued by one of
// issuers when any are given.
func NewOperatorVerifier(keys *KeySet, audience string, issuers []string, opts ...VerifierOption) (*OperatorVerifier, error) {
	if keys == nil {
		return nil, errors.New("auth: key set is required")
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, errors.New("auth: audience is required")
	}
	v := &OperatorVerifier{
		keys:     keys,
		audience: audience,
		issuers:  make(map[string]struct{}, len(issuers)),
		logger:   zap.NewNop(),
		outcomes: outcomeCounter(otel.Meter("github.com/framefox/foxconnect/internal/platform/auth")),
	}
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			v.issuers[issuer] = struct{}{}
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

func outcomeCounter(meter metric.Meter) metric.Int64Counter {
	counter, err := meter.Int64Counter("auth.operator.verifications",
		metric.WithDescription("Operator token verifications by outcome"))
	if err != nil {
		return nil
	}
	return counter
}

// Verify parses token and checks its signature, issuer, and audience.
func (v *OperatorVerifier) Verify(ctx context.Context, token string) (Operator, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(token, claims, v.keys.Keyfunc(ctx)); err != nil {
		return Operator{}, err
	}

	issuer, _ := claims["iss"].(string)
	if len(v.issuers) > 0 {
		if _, ok := v.issuers[issuer]; !ok {
			return Operator{}, errors.New("auth: issuer not allowed")
		}
	}
	if !claims.VerifyAudience(v.audience, true) {
		return Operator{}, errors.New("auth: audience mismatch")
	}

	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	return Operator{Subject: subject, Email: email, Issuer: issuer}, nil
}

// RequireOperator rejects requests without a valid bearer token and stores the operator on the
// request context.
func (v *OperatorVerifier) RequireOperator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				v.record(ctx, "missing")
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "bearer token required", http.StatusUnauthorized))
				return
			}

			op, err := v.Verify(ctx, token)
			if err != nil {
				if errors.Is(err, ErrKeysUnavailable) {
					v.record(ctx, "keys_unavailable")
					httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "operator verification unavailable", http.StatusServiceUnavailable))
					return
				}
				v.record(ctx, "invalid")
				v.logger.Info("operator token rejected", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "operator token verification failed", http.StatusUnauthorized))
				return
			}

			v.record(ctx, "ok")
			next.ServeHTTP(w, r.WithContext(WithOperator(ctx, op)))
		})
	}
}

func (v *OperatorVerifier) record(ctx context.Context, outcome string) {
	if v.outcomes == nil {
		return
	}
	v.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
