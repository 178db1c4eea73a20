package notifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholaragent/core/pkg/store"
)

type stubOutbound struct {
	calls []string
	kinds []string
}

func (s *stubOutbound) EnqueueOutbound(_ context.Context, kind, userExternalID, payload string) (*store.OutboundMessage, error) {
	s.calls = append(s.calls, payload)
	s.kinds = append(s.kinds, kind)
	_ = userExternalID
	return &store.OutboundMessage{Kind: kind, UserExternalID: userExternalID, PayloadText: payload}, nil
}

func TestNewServiceReturnsNilForNilStore(t *testing.T) {
	svc := NewService(nil)
	assert.Nil(t, svc)
}

func TestNilServiceMethodsAreNoOps(t *testing.T) {
	var svc *Service
	// None of these should panic.
	svc.NotifyReport(context.Background(), ReportInput{})
	svc.NotifyCycleLimitReached(context.Background(), "U1", 1, 0)
	svc.NotifyMonitoringStarted(context.Background(), "U1", 1, "survey transformers")
	svc.NotifyTaskFailed(context.Background(), "U1", 1, "boom")
}

func TestNotifyReportEnqueuesAgentReport(t *testing.T) {
	stub := &stubOutbound{}
	svc := NewService(stub)

	svc.NotifyReport(context.Background(), ReportInput{
		UserExternalID: "U1",
		TaskID:         7,
		ReportText:     "3 relevant papers found",
	})

	require.Len(t, stub.calls, 1)
	assert.Equal(t, store.KindAgentReport, stub.kinds[0])
	assert.Equal(t, "3 relevant papers found", stub.calls[0])
}

func TestNotifyCycleLimitReachedCelebratesWhenFindingsExist(t *testing.T) {
	stub := &stubOutbound{}
	svc := NewService(stub)

	svc.NotifyCycleLimitReached(context.Background(), "U1", 42, 3)

	require.Len(t, stub.calls, 1)
	assert.Equal(t, store.KindCycleLimitNotification, stub.kinds[0])
	assert.Contains(t, stub.calls[0], "🎉")
	assert.Contains(t, stub.calls[0], "42")
	assert.Contains(t, stub.calls[0], "3")
}

func TestNotifyCycleLimitReachedSuggestsRefinementWhenNoFindings(t *testing.T) {
	stub := &stubOutbound{}
	svc := NewService(stub)

	svc.NotifyCycleLimitReached(context.Background(), "U1", 42, 0)

	require.Len(t, stub.calls, 1)
	assert.Equal(t, store.KindCycleLimitNotification, stub.kinds[0])
	assert.Contains(t, stub.calls[0], "🔄")
	assert.Contains(t, stub.calls[0], "42")
	assert.NotContains(t, stub.calls[0], "🎉")
}

func TestNotifyMonitoringStartedIncludesDescription(t *testing.T) {
	stub := &stubOutbound{}
	svc := NewService(stub)

	svc.NotifyMonitoringStarted(context.Background(), "U1", 3, "transformer survey")

	require.Len(t, stub.calls, 1)
	assert.Equal(t, store.KindMonitoringStarted, stub.kinds[0])
	assert.Contains(t, stub.calls[0], "transformer survey")
}

func TestNotifyTaskFailedIncludesReason(t *testing.T) {
	stub := &stubOutbound{}
	svc := NewService(stub)

	svc.NotifyTaskFailed(context.Background(), "U1", 9, "source unavailable")

	require.Len(t, stub.calls, 1)
	assert.Equal(t, store.KindAgentReport, stub.kinds[0])
	assert.Contains(t, stub.calls[0], "source unavailable")
}
