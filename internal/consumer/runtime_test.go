package consumer_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/creditrail/creditrail/internal/consumer"
	"github.com/creditrail/creditrail/internal/domain/events"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/testutil"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/stretchr/testify/suite"
)

const (
	testStream   = "credit_service:events"
	testGroup    = "crm"
	testConsumer = "crm-worker-1"
)

type RuntimeSuite struct {
	suite.Suite
	ctx       context.Context
	runtime   *consumer.Runtime
	stream    *testutil.InMemoryStream
	publisher *testutil.InMemoryPublisher

	handled []*events.InterAppEvent
	fail    error
}

func TestRuntime(t *testing.T) {
	suite.Run(t, new(RuntimeSuite))
}

func (s *RuntimeSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.stream = testutil.NewInMemoryStream()
	s.publisher = testutil.NewInMemoryPublisher()
	s.runtime = consumer.NewRuntime(s.stream, s.publisher, testutil.GetConfig(), testutil.GetLogger())
	s.handled = nil
	s.fail = nil

	err := s.stream.EnsureGroup(s.ctx, testStream, testGroup)
	s.NoError(err)
}

func (s *RuntimeSuite) handler(ctx context.Context, event *events.InterAppEvent) error {
	s.handled = append(s.handled, event)
	return s.fail
}

func (s *RuntimeSuite) append(event *events.InterAppEvent) string {
	payload, err := json.Marshal(event)
	s.NoError(err)
	id, err := s.stream.Append(s.ctx, testStream, payload)
	s.NoError(err)
	return id
}

func (s *RuntimeSuite) sampleEvent(eventID string) *events.InterAppEvent {
	data, _ := json.Marshal(&events.CreditEventData{EntityID: "ent-1"})
	return &events.InterAppEvent{
		EventID:           eventID,
		EventType:         types.EventCreditAllocated,
		SourceApplication: "credit_service",
		TargetApplication: testGroup,
		TenantID:          testutil.TestTenantID,
		EntityID:          "ent-1",
		Timestamp:         time.Now().UTC(),
		EventData:         data,
		PublishedBy:       types.SystemUserID,
	}
}

func (s *RuntimeSuite) tick() {
	err := s.runtime.Tick(s.ctx, testStream, testGroup, testConsumer, s.handler)
	s.NoError(err)
}

func (s *RuntimeSuite) TestDispatchAcksAndAcknowledges() {
	s.append(s.sampleEvent("inter_1_aaaaaaaa"))

	s.tick()

	s.Len(s.handled, 1)
	s.Equal("inter_1_aaaaaaaa", s.handled[0].EventID)
	s.Equal(0, s.stream.UnackedCount(testStream))

	acks := s.publisher.Acks()
	s.Len(acks, 1)
	s.Equal("credit_service", acks[0].SourceApplication)
	s.Equal("acks.credit_service", acks[0].RoutingKey)
	s.Equal(types.AckStatusProcessed, acks[0].Ack.Status)
	s.Equal("inter_1_aaaaaaaa", acks[0].Ack.OriginalEventID)
}

func (s *RuntimeSuite) TestRedeliveryInsideWindowRunsHandlerOnce() {
	id := s.append(s.sampleEvent("inter_1_aaaaaaaa"))

	s.tick()
	s.stream.Redeliver(testStream, id)
	s.tick()

	// The redelivery is acknowledged without re-running the handler.
	s.Len(s.handled, 1)
	s.Equal(0, s.stream.UnackedCount(testStream))
	s.Len(s.publisher.Acks(), 1)
}

func (s *RuntimeSuite) TestPendingDrainedBeforeNew() {
	first := s.append(s.sampleEvent("inter_1_aaaaaaaa"))

	// Hand the entry out as new, then fake a crashed session by leaving it
	// unacked and forgetting the idempotency window.
	msgs, err := s.stream.ReadNew(s.ctx, testStream, testGroup, testConsumer, 10, 0)
	s.NoError(err)
	s.Len(msgs, 1)
	s.Equal(first, msgs[0].ID)

	s.append(s.sampleEvent("inter_2_bbbbbbbb"))
	s.tick()

	s.Len(s.handled, 2)
	s.Equal("inter_1_aaaaaaaa", s.handled[0].EventID)
	s.Equal("inter_2_bbbbbbbb", s.handled[1].EventID)
	s.Equal(0, s.stream.UnackedCount(testStream))
}

func (s *RuntimeSuite) TestHandlerFailureRetriedThenAckedAnyway() {
	s.append(s.sampleEvent("inter_1_aaaaaaaa"))
	s.fail = ierr.NewError("downstream unavailable").Mark(ierr.ErrSystem)

	s.tick()

	// One initial attempt plus the configured in-process retry.
	s.Len(s.handled, 2)

	// Poison defense: the broker still gets the ack so the message does not
	// loop forever.
	s.Equal(0, s.stream.UnackedCount(testStream))

	acks := s.publisher.Acks()
	s.Len(acks, 1)
	s.Equal(types.AckStatusFailed, acks[0].Ack.Status)
	s.Equal(types.FailureConsumerProcessingFailure, acks[0].Ack.Error.Class)
}

func (s *RuntimeSuite) TestHandlerRecoversOnRetry() {
	s.append(s.sampleEvent("inter_1_aaaaaaaa"))
	s.fail = ierr.NewError("flaky").Mark(ierr.ErrSystem)

	// Fail the first attempt, succeed on the in-process retry.
	calls := 0
	err := s.runtime.Tick(s.ctx, testStream, testGroup, testConsumer, func(ctx context.Context, event *events.InterAppEvent) error {
		calls++
		if calls == 1 {
			return s.fail
		}
		return nil
	})
	s.NoError(err)

	s.Equal(2, calls)
	acks := s.publisher.Acks()
	s.Len(acks, 1)
	s.Equal(types.AckStatusProcessed, acks[0].Ack.Status)
}

func (s *RuntimeSuite) TestUndecodablePayloadDropped() {
	_, err := s.stream.Append(s.ctx, testStream, []byte("not-json"))
	s.NoError(err)

	s.tick()

	s.Empty(s.handled)
	s.Equal(0, s.stream.UnackedCount(testStream))
	// No envelope means no source application to ack back to.
	s.Empty(s.publisher.Acks())
}

func (s *RuntimeSuite) TestEnvelopeOutsideContractDropped() {
	event := s.sampleEvent("inter_1_aaaaaaaa")
	event.TenantID = ""
	s.append(event)

	s.tick()

	s.Empty(s.handled)
	s.Equal(0, s.stream.UnackedCount(testStream))

	acks := s.publisher.Acks()
	s.Len(acks, 1)
	s.Equal(types.AckStatusFailed, acks[0].Ack.Status)
	s.Equal(types.FailureContractDrift, acks[0].Ack.Error.Class)
}
