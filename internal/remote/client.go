package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/plate.report/internal/monitoring"
	"github.com/banshee-data/plate.report/internal/pipeline"
	"github.com/banshee-data/plate.report/internal/tracking"
)

const (
	// DefaultTimeout bounds a single Detect or Recognize call.
	DefaultTimeout = 5 * time.Second

	maxMsgSize = 50 * 1024 * 1024
)

var logf = monitoring.Component("remote")

// Client calls the inference service. It implements pipeline.Detector
// and pipeline.Recognizer.
type Client struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
}

var (
	_ pipeline.Detector   = (*Client)(nil)
	_ pipeline.Recognizer = (*Client)(nil)
)

// Dial creates a client for the service at addr. The connection is
// established lazily on the first call.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("create inference client for %s: %w", addr, err)
	}
	logf("inference service at %s", addr)

	return &Client{conn: conn, addr: addr, timeout: timeout}, nil
}

// Addr returns the service address.
func (c *Client) Addr() string { return c.addr }

// Close releases the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Detect asks the service for plate regions in frame.
func (c *Client) Detect(ctx context.Context, frame pipeline.Frame) ([]pipeline.Candidate, error) {
	fields := frameFields(frame)
	if !frame.Timestamp.IsZero() {
		fields["timestamp"] = frame.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}

	resp, err := c.invoke(ctx, DetectMethod, req)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	return decodeCandidates(resp)
}

// Recognize asks the service for the text inside box.
func (c *Client) Recognize(ctx context.Context, frame pipeline.Frame, box tracking.Box) (string, error) {
	fields := frameFields(frame)
	fields["bbox"] = boxList(box)
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return "", fmt.Errorf("build recognize request: %w", err)
	}

	resp, err := c.invoke(ctx, RecognizeMethod, req)
	if err != nil {
		return "", fmt.Errorf("recognize %s: %w", box, err)
	}
	text, ok := resp.GetFields()["text"]
	if !ok {
		return "", nil
	}
	if _, isString := text.GetKind().(*structpb.Value_StringValue); !isString {
		return "", fmt.Errorf("recognize %s: text is not a string", box)
	}
	return text.GetStringValue(), nil
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func frameFields(frame pipeline.Frame) map[string]interface{} {
	return map[string]interface{}{
		"seq":       float64(frame.Seq),
		"image_b64": base64.StdEncoding.EncodeToString(frame.Data),
	}
}

func boxList(b tracking.Box) []interface{} {
	return []interface{}{float64(b.X1), float64(b.Y1), float64(b.X2), float64(b.Y2)}
}

// decodeCandidates reads {detections: [{bbox, confidence}]}.
func decodeCandidates(resp *structpb.Struct) ([]pipeline.Candidate, error) {
	list := resp.GetFields()["detections"].GetListValue()
	if list == nil {
		return nil, nil
	}

	out := make([]pipeline.Candidate, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		obj := v.GetStructValue()
		if obj == nil {
			return nil, fmt.Errorf("detection %d: not an object", i)
		}
		box, err := decodeBox(obj.GetFields()["bbox"])
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		out = append(out, pipeline.Candidate{
			Box:        box,
			Confidence: obj.GetFields()["confidence"].GetNumberValue(),
		})
	}
	return out, nil
}

func decodeBox(v *structpb.Value) (tracking.Box, error) {
	coords := v.GetListValue().GetValues()
	if len(coords) != 4 {
		return tracking.Box{}, fmt.Errorf("bbox needs 4 numbers, got %d", len(coords))
	}
	var xy [4]int32
	for i, c := range coords {
		n, ok := c.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return tracking.Box{}, fmt.Errorf("bbox[%d] is not a number", i)
		}
		xy[i] = int32(math.Round(n.NumberValue))
	}
	return tracking.Box{X1: xy[0], Y1: xy[1], X2: xy[2], Y2: xy[3]}, nil
}
