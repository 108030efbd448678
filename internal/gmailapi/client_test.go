package gmailapi

import (
	"errors"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/lu-zhengda/icloud-to-gmail/internal/migerr"
)

func TestClassify_QuotaExceededIsRetryable(t *testing.T) {
	err := &googleapi.Error{Code: 429}
	kind, retryable := classify(err)
	if kind != migerr.QuotaExceeded || !retryable {
		t.Errorf("classify(429) = (%v, %v), want (QuotaExceeded, true)", kind, retryable)
	}
}

func TestClassify_ServerErrorIsRetryable(t *testing.T) {
	err := &googleapi.Error{Code: 503}
	kind, retryable := classify(err)
	if kind != migerr.NetworkTransient || !retryable {
		t.Errorf("classify(503) = (%v, %v), want (NetworkTransient, true)", kind, retryable)
	}
}

func TestClassify_NonRetryableClientErrorIsPermanent(t *testing.T) {
	err := &googleapi.Error{Code: 400}
	kind, retryable := classify(err)
	if kind != migerr.RemoteRejected || retryable {
		t.Errorf("classify(400) = (%v, %v), want (RemoteRejected, false)", kind, retryable)
	}
}

func TestClassify_NonGoogleErrorIsTransient(t *testing.T) {
	kind, retryable := classify(errors.New("connection reset"))
	if kind != migerr.NetworkTransient || !retryable {
		t.Errorf("classify(generic error) = (%v, %v), want (NetworkTransient, true)", kind, retryable)
	}
}
