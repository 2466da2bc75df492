package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jaakkos/peertasks/internal/domain"
	"github.com/jaakkos/peertasks/internal/metrics"
)

const (
	DefaultCredentialLabel = "peertasks-identity"
	DefaultCommonPrefix    = "peertasks"
)

// IdentityRenewer makes sure a usable credential exists before replication starts.
type IdentityRenewer struct {
	provider    CredentialProvider
	label       string
	prefix      string
	renewBefore time.Duration
	now         func() time.Time
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// RenewerOption configures the renewer.
type RenewerOption func(*IdentityRenewer)

// WithCredentialLabel sets the label the credential is stored under.
func WithCredentialLabel(label string) RenewerOption {
	return func(r *IdentityRenewer) {
		if label != "" {
			r.label = label
		}
	}
}

// WithCommonNamePrefix sets the prefix of generated common names.
func WithCommonNamePrefix(prefix string) RenewerOption {
	return func(r *IdentityRenewer) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRenewBefore renews credentials this long before they expire.
func WithRenewBefore(d time.Duration) RenewerOption {
	return func(r *IdentityRenewer) { r.renewBefore = d }
}

// WithRenewerClock overrides time.Now.
func WithRenewerClock(now func() time.Time) RenewerOption {
	return func(r *IdentityRenewer) { r.now = now }
}

// WithRenewerLogger sets the logger.
func WithRenewerLogger(l *zap.Logger) RenewerOption {
	return func(r *IdentityRenewer) { r.logger = l }
}

// WithRenewerMetrics sets the metrics sink.
func WithRenewerMetrics(m *metrics.Metrics) RenewerOption {
	return func(r *IdentityRenewer) { r.metrics = m }
}

// NewIdentityRenewer creates a renewer backed by provider.
func NewIdentityRenewer(provider CredentialProvider, opts ...RenewerOption) *IdentityRenewer {
	r := &IdentityRenewer{
		provider: provider,
		label:    DefaultCredentialLabel,
		prefix:   DefaultCommonPrefix,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Ensure returns a valid credential, creating a new one when the stored one is
// missing, unreadable, or expired. renewed is true when a new one was issued.
func (r *IdentityRenewer) Ensure(ctx context.Context) (cred *domain.Credential, renewed bool, err error) {
	cur, err := r.provider.CurrentCredential(ctx, r.label)
	if err != nil {
		r.logger.Warn("stored credential unreadable, issuing a new one", zap.Error(err))
		cur = nil
	}
	if cur != nil && r.now().Before(cur.NotAfter.Add(-r.renewBefore)) {
		r.metrics.RecordRenewal("kept")
		return cur, false, nil
	}

	if cur != nil || err != nil {
		if derr := r.provider.DeleteCredential(ctx, r.label); derr != nil {
			r.logger.Debug("stale credential cleanup failed", zap.Error(derr))
		}
	}

	attrs := map[string]string{domain.AttrCommonName: r.commonName()}
	created, cerr := r.provider.CreateCredential(ctx, []string{domain.UsageClientAuth, domain.UsageServerAuth}, attrs, r.label)
	if cerr != nil {
		r.metrics.RecordRenewal("failed")
		return nil, false, newError(KindCredential, "create_credential", cerr)
	}
	r.metrics.RecordRenewal("renewed")
	r.logger.Info("credential issued",
		zap.String("common_name", created.CommonName),
		zap.Time("not_after", created.NotAfter))
	return created, true, nil
}

func (r *IdentityRenewer) commonName() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return r.prefix + "-" + hex[:8]
}
