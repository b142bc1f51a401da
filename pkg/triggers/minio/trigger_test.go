package minio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukex/imageflow/pkg/log"
	"github.com/minio/minio-go/v7/pkg/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	notifications chan notification.Info
	objects       map[string][]byte
	exists        bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		notifications: make(chan notification.Info, 10),
		objects:       map[string][]byte{},
		exists:        true,
	}
}

func (f *fakeSource) Notifications(ctx context.Context, _, _ string) <-chan notification.Info {
	out := make(chan notification.Info)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case info := <-f.notifications:
				select {
				case out <- info:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (f *fakeSource) Read(_ context.Context, _, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}

	return data, nil
}

func (f *fakeSource) BucketExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

type recordingSubmitter struct {
	mu    sync.Mutex
	names []string
	data  map[string][]byte
}

func (r *recordingSubmitter) SubmitBlob(_ context.Context, blobName string, data []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data == nil {
		r.data = map[string][]byte{}
	}

	r.names = append(r.names, blobName)
	r.data[blobName] = data

	return "instance-" + blobName, nil
}

func (r *recordingSubmitter) submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.names...)
}

func record(eventName, key string) notification.Event {
	var event notification.Event
	event.EventName = eventName
	event.S3.Object.Key = key

	return event
}

func TestTrigger_Handle(t *testing.T) {
	source := newFakeSource()
	source.objects["images/my cat.png"] = []byte("cat")
	source.objects["images/dog.png"] = []byte("dog")

	tests := []struct {
		name      string
		event     notification.Event
		wantErr   bool
		submitted []string
	}{
		{name: "created", event: record("s3:ObjectCreated:Put", "images/dog.png"), submitted: []string{"images/dog.png"}},
		{name: "url encoded key", event: record("s3:ObjectCreated:Put", "images/my+cat.png"), submitted: []string{"images/my cat.png"}},
		{name: "removed", event: record("s3:ObjectRemoved:Delete", "images/dog.png")},
		{name: "outside prefix", event: record("s3:ObjectCreated:Put", "docs/readme.md")},
		{name: "folder marker", event: record("s3:ObjectCreated:Put", "images/sub/")},
		{name: "vanished object", event: record("s3:ObjectCreated:Put", "images/gone.png"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submitter := &recordingSubmitter{}
			trigger := NewTrigger(source, "uploads", "images/", submitter, log.Discard())

			err := trigger.handle(context.Background(), tt.event)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.submitted, submitter.submitted())
		})
	}
}

func TestTrigger_StartRequiresBucket(t *testing.T) {
	source := newFakeSource()
	source.exists = false

	trigger := NewTrigger(source, "uploads", "images/", &recordingSubmitter{}, log.Discard())

	err := trigger.Start(context.Background())
	require.ErrorIs(t, err, ErrBucketNotFound)
}

func TestTrigger_ListensForUploads(t *testing.T) {
	source := newFakeSource()
	source.objects["images/a.png"] = []byte("a")
	source.objects["images/b.png"] = []byte("b")

	submitter := &recordingSubmitter{}
	trigger := NewTrigger(source, "uploads", "images/", submitter, log.Discard())

	require.NoError(t, trigger.Start(context.Background()))

	source.notifications <- notification.Info{Err: errors.New("connection reset")}
	source.notifications <- notification.Info{Records: []notification.Event{
		record("s3:ObjectCreated:Put", "images/a.png"),
		record("s3:ObjectCreated:CompleteMultipartUpload", "images/b.png"),
	}}

	require.Eventually(t, func() bool {
		return len(submitter.submitted()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, trigger.Stop(context.Background()))
	assert.Equal(t, []string{"images/a.png", "images/b.png"}, submitter.submitted())
	assert.Equal(t, []byte("b"), submitter.data["images/b.png"])
}
