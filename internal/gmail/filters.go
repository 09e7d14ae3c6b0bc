package gmail

import (
	"context"

	gmail "google.golang.org/api/gmail/v1"
)

// FilterAction is the label mutation a filter applies to matching mail.
type FilterAction struct {
	AddLabelIDs    []string
	RemoveLabelIDs []string
}

// Filter is a sender-based Gmail filter rule. From holds the raw
// `criteria.from` expression; filters with other criteria shapes surface
// with From empty and are left alone by the reconciler.
type Filter struct {
	ID     string
	From   string
	Action FilterAction
}

// ListFilters returns all filter rules on the account.
func (c *Client) ListFilters(ctx context.Context) ([]Filter, error) {
	res, err := c.svc.Settings.Filters.List("me").Context(ctx).Do()
	if err != nil {
		return nil, remoteErr("filters.list", err)
	}

	filters := make([]Filter, 0, len(res.Filter))
	for _, f := range res.Filter {
		filters = append(filters, fromAPIFilter(f))
	}
	return filters, nil
}

// CreateFilter creates a sender-based filter rule and returns it with the
// provider-assigned ID.
func (c *Client) CreateFilter(ctx context.Context, from string, action FilterAction) (Filter, error) {
	created, err := c.svc.Settings.Filters.Create("me", &gmail.Filter{
		Criteria: &gmail.FilterCriteria{From: from},
		Action: &gmail.FilterAction{
			AddLabelIds:    action.AddLabelIDs,
			RemoveLabelIds: action.RemoveLabelIDs,
		},
	}).Context(ctx).Do()
	if err != nil {
		return Filter{}, remoteErr("filters.create", err)
	}

	return fromAPIFilter(created), nil
}

// DeleteFilter removes a filter rule by ID.
func (c *Client) DeleteFilter(ctx context.Context, id string) error {
	if err := c.svc.Settings.Filters.Delete("me", id).Context(ctx).Do(); err != nil {
		return remoteErr("filters.delete", err)
	}
	return nil
}

func fromAPIFilter(f *gmail.Filter) Filter {
	out := Filter{ID: f.Id}
	if f.Criteria != nil {
		out.From = f.Criteria.From
	}
	if f.Action != nil {
		out.Action = FilterAction{
			AddLabelIDs:    f.Action.AddLabelIds,
			RemoveLabelIDs: f.Action.RemoveLabelIds,
		}
	}
	return out
}
