package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/creditrail/creditrail/internal/domain/events"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/testutil"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/stretchr/testify/suite"
)

type RetryScannerSuite struct {
	suite.Suite
	ctx       context.Context
	scanner   *RetryScanner
	publisher *testutil.InMemoryPublisher
}

func TestRetryScanner(t *testing.T) {
	suite.Run(t, new(RetryScannerSuite))
}

func (s *RetryScannerSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.publisher = testutil.NewInMemoryPublisher()
	s.scanner = NewRetryScanner(testutil.GetConfig(), testutil.GetLogger(), s.publisher)
}

func (s *RetryScannerSuite) track(eventID string) {
	s.scanner.Track(s.ctx, &events.PublishReceipt{EventID: eventID, RoutingKey: "crm.credit.allocated"},
		"crm", types.EventCreditAllocated, "ent-1", map[string]any{"amount": "10"})
}

func (s *RetryScannerSuite) TestAckClearsTrackedEvent() {
	s.track("inter_1_abc")
	s.Equal(1, s.scanner.PendingCount())

	s.scanner.HandleAck(&events.AcknowledgmentEvent{
		OriginalEventID: "inter_1_abc",
		Status:          types.AckStatusProcessed,
	})
	s.Equal(0, s.scanner.PendingCount())
}

func (s *RetryScannerSuite) TestFailedAckKeepsEventTracked() {
	s.track("inter_1_abc")

	s.scanner.HandleAck(&events.AcknowledgmentEvent{
		OriginalEventID: "inter_1_abc",
		Status:          types.AckStatusFailed,
		Error: &events.AckError{
			Class:   types.FailureConsumerProcessingFailure,
			Message: "boom",
		},
	})
	s.Equal(1, s.scanner.PendingCount())
}

func (s *RetryScannerSuite) TestScanRepublishesAfterWindow() {
	s.track("inter_1_abc")

	// Inside the window nothing happens.
	s.scanner.Scan(s.ctx, time.Now().UTC())
	s.Empty(s.publisher.Events())

	// Past the window the event goes out again under a fresh ID.
	s.scanner.Scan(s.ctx, time.Now().UTC().Add(10*time.Minute))
	published := s.publisher.Events()
	s.Len(published, 1)
	s.Equal("crm", published[0].Target)
	s.Equal(types.EventCreditAllocated, published[0].EventType)
	s.Equal(1, s.scanner.PendingCount())
}

func (s *RetryScannerSuite) TestScanGivesUpAfterMaxAttempts() {
	s.track("inter_1_abc")

	when := time.Now().UTC()
	for i := 0; i < maxRetryAttempts+1; i++ {
		when = when.Add(10 * time.Minute)
		s.scanner.Scan(s.ctx, when)
	}

	s.Len(s.publisher.Events(), maxRetryAttempts)
	s.Equal(0, s.scanner.PendingCount())
}

func (s *RetryScannerSuite) TestTrackedPublisherRegistersConfirmedPublishes() {
	tracked := NewTrackedPublisher(s.publisher, s.scanner)

	_, err := tracked.Publish(s.ctx, "crm", types.EventCreditAllocated, "ent-1", map[string]any{"amount": "10"})
	s.NoError(err)
	_, err = tracked.PublishBroadcast(s.ctx, types.EventPurchaseCompleted, "ent-1", nil)
	s.NoError(err)
	s.Equal(2, s.scanner.PendingCount())

	// A failed publish was never confirmed, so nothing to track.
	s.publisher.FailNext = ierr.ErrBrokerUnavailable
	_, err = tracked.Publish(s.ctx, "crm", types.EventCreditAllocated, "ent-1", nil)
	s.Error(err)
	s.Equal(2, s.scanner.PendingCount())

	// Acknowledgments pass through untracked.
	s.NoError(tracked.PublishAcknowledgment(s.ctx, "crm", &events.AcknowledgmentEvent{
		OriginalEventID: "inter_1_abc",
		Status:          types.AckStatusProcessed,
	}))
	s.Equal(2, s.scanner.PendingCount())

	// The consumer's ack clears the tracked publish.
	published := s.publisher.Events()
	s.scanner.HandleAck(&events.AcknowledgmentEvent{
		OriginalEventID: published[0].EventID,
		Status:          types.AckStatusProcessed,
	})
	s.Equal(1, s.scanner.PendingCount())
}

func (s *RetryScannerSuite) TestFailedRepublishKeepsEntryForNextScan() {
	s.track("inter_1_abc")
	s.publisher.FailNext = ierr.ErrBrokerUnavailable

	s.scanner.Scan(s.ctx, time.Now().UTC().Add(10*time.Minute))
	s.Empty(s.publisher.Events())
	s.Equal(1, s.scanner.PendingCount())

	// Broker back: the next scan succeeds.
	s.scanner.Scan(s.ctx, time.Now().UTC().Add(20*time.Minute))
	s.Len(s.publisher.Events(), 1)
}
