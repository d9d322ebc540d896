package nostr

import "context"

// AdmitStatus is the verdict of an AdmitPolicy checkpoint.
type AdmitStatus struct {
	Rejected bool
	Reason   string
}

func AdmitSuccess() AdmitStatus { return AdmitStatus{} }

func AdmitRejected(reason string) AdmitStatus { return AdmitStatus{Rejected: true, Reason: reason} }

func (s AdmitStatus) IsSuccess() bool { return !s.Rejected }

// AdmitPolicy is consulted by relays before connecting, before answering an AUTH challenge and
// before accepting each event received in a subscription.
type AdmitPolicy interface {
	AdmitConnection(ctx context.Context, url string) AdmitStatus
	AdmitAuth(ctx context.Context, url string) AdmitStatus
	AdmitEvent(ctx context.Context, url string, subscriptionID string, evt Event) AdmitStatus
}

// AdmitFuncs builds an AdmitPolicy out of plain functions, any of them may be nil.
type AdmitFuncs struct {
	Connection func(ctx context.Context, url string) AdmitStatus
	Auth       func(ctx context.Context, url string) AdmitStatus
	Event      func(ctx context.Context, url string, subscriptionID string, evt Event) AdmitStatus
}

var _ AdmitPolicy = AdmitFuncs{}

func (f AdmitFuncs) AdmitConnection(ctx context.Context, url string) AdmitStatus {
	if f.Connection == nil {
		return AdmitSuccess()
	}
	return f.Connection(ctx, url)
}

func (f AdmitFuncs) AdmitAuth(ctx context.Context, url string) AdmitStatus {
	if f.Auth == nil {
		return AdmitSuccess()
	}
	return f.Auth(ctx, url)
}

func (f AdmitFuncs) AdmitEvent(ctx context.Context, url string, subscriptionID string, evt Event) AdmitStatus {
	if f.Event == nil {
		return AdmitSuccess()
	}
	return f.Event(ctx, url, subscriptionID, evt)
}

func admitConnection(ctx context.Context, policy AdmitPolicy, url string) AdmitStatus {
	if policy == nil {
		return AdmitSuccess()
	}
	return policy.AdmitConnection(ctx, url)
}

func admitAuth(ctx context.Context, policy AdmitPolicy, url string) AdmitStatus {
	if policy == nil {
		return AdmitSuccess()
	}
	return policy.AdmitAuth(ctx, url)
}

func admitEvent(ctx context.Context, policy AdmitPolicy, url string, subscriptionID string, evt Event) AdmitStatus {
	if policy == nil {
		return AdmitSuccess()
	}
	return policy.AdmitEvent(ctx, url, subscriptionID, evt)
}
