package processor

import (
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensure/backend/features/queue"
)

func TestTickConsumer_RunsCycle(t *testing.T) {
	job := perLicenseJob("q1", "KEY-AAAA-BBBB-CCCC-DDDD")
	jobs := newFakeJobStore(job)
	p := newTestProcessor(jobs, newFakeLicenseStore(), newFakeSubStore(), &fakeKeygen{}, &fakeProvider{}, nil)

	consumer := NewTickConsumer(p, 10)
	msg := nsq.NewMessage(nsq.MessageID{}, []byte(`{"payment_intent_id": "pi_123"}`))

	require.NoError(t, consumer.HandleMessage(msg))
	assert.Equal(t, queue.StatusCompleted, job.Status)
}

func TestTickConsumer_DropsInvalidMessage(t *testing.T) {
	jobs := newFakeJobStore()
	p := newTestProcessor(jobs, newFakeLicenseStore(), newFakeSubStore(), &fakeKeygen{}, &fakeProvider{}, nil)

	consumer := NewTickConsumer(p, 10)
	msg := nsq.NewMessage(nsq.MessageID{}, []byte(`{not json`))

	// Invalid nudges are dropped, never requeued.
	assert.NoError(t, consumer.HandleMessage(msg))
}

func TestTickConsumer_EmptyBodyStillTicks(t *testing.T) {
	job := perLicenseJob("q1", "KEY-AAAA-BBBB-CCCC-DDDD")
	jobs := newFakeJobStore(job)
	p := newTestProcessor(jobs, newFakeLicenseStore(), newFakeSubStore(), &fakeKeygen{}, &fakeProvider{}, nil)

	consumer := NewTickConsumer(p, 10)
	require.NoError(t, consumer.HandleMessage(nsq.NewMessage(nsq.MessageID{}, nil)))
	assert.Equal(t, queue.StatusCompleted, job.Status)
}
