// Package bacnetio wraps the external BACnet/IP stack's who-is and
// read-property primitives (§6 names these as the consumed interface) with
// the one piece of protocol-aware logic this gateway owns: the
// segmentation-refusal fallback for oversized array properties (C4).
package bacnetio

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kloudnuk/bacnet-gateway/internal/apperrors"
	"github.com/kloudnuk/bacnet-gateway/internal/logging"
	"github.com/kloudnuk/bacnet-gateway/internal/model"
)

// AbortReason mirrors the subset of BACnet AbortPDU reasons the reader
// cares about.
type AbortReason string

// SegmentationNotSupported is the one abort reason C4 auto-recovers from.
const SegmentationNotSupported AbortReason = "segmentationNotSupported"

// AbortError is raised by a Transport when a device rejects a reply that
// would require APDU segmentation.
type AbortError struct {
	Reason AbortReason
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("abort: %s", e.Reason)
}

// WhoIsResult pairs a discovered device identifier with its source
// address, as returned by a who-is broadcast.
type WhoIsResult struct {
	Id      model.DeviceId
	Address model.Address
}

// Transport is the external BACnet/IP stack's consumer-facing interface:
// who-is discovery and read-property, including the array-index form used
// by the segmentation fallback. Implementations are the out-of-scope
// collaborator named in §1/§6; this package only depends on the interface.
type Transport interface {
	WhoIs(ctx context.Context, low, high int, address string, timeout time.Duration) ([]WhoIsResult, error)
	ReadProperty(ctx context.Context, address model.Address, objectId, property string, arrayIndex *int) (interface{}, error)
}

// Reader is the BACnet Reader (C4): it issues read-property through a rate
// limiter (bounding outbound request cadence so one slow device can't flood
// the LAN) and implements the array-index walk fallback for devices that
// refuse to segment large object-list replies.
type Reader struct {
	transport Transport
	limiter   *rate.Limiter
	log       logging.Logger
}

// NewReader builds a Reader. limiter may be nil to disable rate limiting
// (tests).
func NewReader(transport Transport, limiter *rate.Limiter) *Reader {
	return &Reader{
		transport: transport,
		limiter:   limiter,
		log:       logging.GetLogger().WithField("log", "bacnetio"),
	}
}

// WhoIs issues a discovery broadcast.
func (r *Reader) WhoIs(ctx context.Context, low, high int, address string, timeout time.Duration) ([]WhoIsResult, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.transport.WhoIs(ctx, low, high, address, timeout)
}

// Read implements the §4.4 algorithm: issue a standard read-property; on
// segmentation refusal for "object-list", fall back to an index-by-index
// walk seeded by the length stored at array index 0; any other error is
// returned wrapped as a KindReadFailure error.
func (r *Reader) Read(ctx context.Context, address model.Address, objectId, property string) (interface{}, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	value, err := r.transport.ReadProperty(ctx, address, objectId, property, nil)
	if err == nil {
		return value, nil
	}

	var abort *AbortError
	if !asAbortError(err, &abort) || abort.Reason != SegmentationNotSupported || property != "object-list" {
		return nil, apperrors.New(apperrors.KindReadFailure, fmt.Sprintf("read %s.%s", objectId, property), err)
	}

	return r.readObjectListByIndex(ctx, address, objectId)
}

func (r *Reader) readObjectListByIndex(ctx context.Context, address model.Address, objectId string) ([]interface{}, error) {
	zero := 0
	lengthVal, err := r.transport.ReadProperty(ctx, address, objectId, "object-list", &zero)
	if err != nil {
		return nil, apperrors.New(apperrors.KindSegmentationRefused, "reading object-list length", err)
	}
	n, ok := toInt(lengthVal)
	if !ok {
		return nil, apperrors.New(apperrors.KindSegmentationRefused, "object-list length not numeric", nil)
	}

	out := make([]interface{}, 0, n)
	for i := 1; i <= n; i++ {
		if err := r.wait(ctx); err != nil {
			return nil, err
		}
		idx := i
		v, err := r.transport.ReadProperty(ctx, address, objectId, "object-list", &idx)
		if err != nil {
			return nil, apperrors.New(apperrors.KindReadFailure, fmt.Sprintf("object-list[%d]", i), err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *Reader) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return apperrors.New(apperrors.KindCancelled, "rate limit wait", err)
	}
	return nil
}

func asAbortError(err error, target **AbortError) bool {
	ae, ok := err.(*AbortError)
	if ok {
		*target = ae
	}
	return ok
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
