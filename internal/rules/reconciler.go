package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/voxmail/voxmail/internal/gmail"
	"github.com/voxmail/voxmail/internal/logging"
)

// ActionKind selects what the managed rule does to matching mail.
type ActionKind int

const (
	// ActionArchive removes matching mail from the inbox.
	ActionArchive ActionKind = iota
	// ActionTrash sends matching mail straight to the trash.
	ActionTrash
)

func (k ActionKind) String() string {
	if k == ActionTrash {
		return "trash"
	}
	return "archive"
}

// filterAction is the exact label mutation each kind maps to. Archive must
// never carry TRASH.
func (k ActionKind) filterAction() gmail.FilterAction {
	if k == ActionTrash {
		return gmail.FilterAction{
			AddLabelIDs:    []string{"TRASH"},
			RemoveLabelIDs: []string{"INBOX"},
		}
	}
	return gmail.FilterAction{
		RemoveLabelIDs: []string{"INBOX"},
	}
}

// RemoteError reports which reconciliation step failed against the provider.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// FilterService is the slice of the mail provider the reconciler needs.
// Implemented by *gmail.Client and faked in tests.
type FilterService interface {
	ListFilters(ctx context.Context) ([]gmail.Filter, error)
	CreateFilter(ctx context.Context, from string, action gmail.FilterAction) (gmail.Filter, error)
	DeleteFilter(ctx context.Context, id string) error
}

// Outcome describes what a reconciliation did.
type Outcome struct {
	RuleID  string   `json:"ruleId"`
	Domains []string `json:"domains"`
	Created bool     `json:"created"`
	Merged  bool     `json:"merged"`
}

// Reconciler maintains one managed filter rule per action kind.
type Reconciler struct {
	svc    FilterService
	logger *slog.Logger
}

func NewReconciler(svc FilterService, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{svc: svc, logger: logger}
}

// ApplyDomain ensures the managed rule for kind matches mail from domain.
// When the rule already covers the domain nothing is touched. Otherwise the
// old rule is deleted and a rule with the merged domain set is created;
// filters are immutable, so between those two calls no rule exists and mail
// arriving in that window is not filtered.
func (r *Reconciler) ApplyDomain(ctx context.Context, domain string, kind ActionKind) (Outcome, error) {
	normalized, err := NormalizeDomain(domain)
	if err != nil {
		return Outcome{}, err
	}

	filters, err := r.svc.ListFilters(ctx)
	if err != nil {
		return Outcome{}, &RemoteError{Op: "list", Err: err}
	}

	existing, domains := r.findManaged(filters, kind)
	if existing == nil {
		created, err := r.svc.CreateFilter(ctx, SerializeCriteria([]string{normalized}), kind.filterAction())
		if err != nil {
			return Outcome{}, &RemoteError{Op: "create", Err: err}
		}
		r.logger.Info("created sender rule",
			logging.Domain(normalized),
			slog.String("kind", kind.String()),
			slog.String("rule_id", created.ID))
		return Outcome{RuleID: created.ID, Domains: []string{normalized}, Created: true}, nil
	}

	merged, changed := MergeDomain(domains, normalized)
	if !changed {
		return Outcome{RuleID: existing.ID, Domains: domains}, nil
	}

	if err := r.svc.DeleteFilter(ctx, existing.ID); err != nil {
		return Outcome{}, &RemoteError{Op: "delete", Err: err}
	}
	created, err := r.svc.CreateFilter(ctx, SerializeCriteria(merged), kind.filterAction())
	if err != nil {
		return Outcome{}, &RemoteError{Op: "create", Err: err}
	}

	r.logger.Info("merged domain into sender rule",
		logging.Domain(normalized),
		slog.String("kind", kind.String()),
		slog.String("rule_id", created.ID),
		slog.Int("domains", len(merged)))
	return Outcome{RuleID: created.ID, Domains: merged, Merged: true}, nil
}

// findManaged picks the first rule whose action exactly matches the kind and
// whose criteria parses into at least one domain. Everything else on the
// account is left alone.
func (r *Reconciler) findManaged(filters []gmail.Filter, kind ActionKind) (*gmail.Filter, []string) {
	want := kind.filterAction()
	for i := range filters {
		f := &filters[i]
		if f.From == "" || !actionEqual(f.Action, want) {
			continue
		}
		if domains := ParseCriteria(f.From); len(domains) > 0 {
			return f, domains
		}
	}
	return nil, nil
}

func actionEqual(a, b gmail.FilterAction) bool {
	return labelsEqual(a.AddLabelIDs, b.AddLabelIDs) &&
		labelsEqual(a.RemoveLabelIDs, b.RemoveLabelIDs)
}

func labelsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}
