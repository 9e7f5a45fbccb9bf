package edge

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
)

// Lambda@Edge origin-request wire types. Declared locally because the
// aws-lambda-go event structs omit the origin and body fields an
// origin-request handler needs for rewrites and generated responses.

// Header is one CloudFront header value.
type Header struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

// S3Origin points the request at an S3 bucket origin.
type S3Origin struct {
	DomainName    string              `json:"domainName"`
	Region        string              `json:"region,omitempty"`
	AuthMethod    string              `json:"authMethod,omitempty"`
	Path          string              `json:"path,omitempty"`
	CustomHeaders map[string][]Header `json:"customHeaders,omitempty"`
}

// Origin is the request's target origin. An origin-request handler may
// replace it to send the request somewhere other than the distribution's
// configured origin.
type Origin struct {
	S3 *S3Origin `json:"s3,omitempty"`
}

// Request is the CloudFront request object handed to the edge function.
type Request struct {
	URI         string              `json:"uri"`
	QueryString string              `json:"querystring"`
	Method      string              `json:"method"`
	ClientIP    string              `json:"clientIp,omitempty"`
	Headers     map[string][]Header `json:"headers"`
	Origin      *Origin             `json:"origin,omitempty"`
}

// Response is a response generated at the edge, terminating the request.
type Response struct {
	Status            string              `json:"status"`
	StatusDescription string              `json:"statusDescription,omitempty"`
	Headers           map[string][]Header `json:"headers,omitempty"`
	Body              string              `json:"body,omitempty"`
	BodyEncoding      string              `json:"bodyEncoding,omitempty"`
}

// Event is the Lambda@Edge invocation envelope.
type Event struct {
	Records []struct {
		CF struct {
			Config struct {
				EventType string `json:"eventType"`
				RequestID string `json:"requestId"`
			} `json:"config"`
			Request Request `json:"request"`
		} `json:"cf"`
	} `json:"Records"`
}

// HandleEvent adapts a CloudFront origin-request event onto Route. The
// return value is either the (possibly rewritten) request, which lets
// CloudFront continue to the origin, or a generated Response.
func (r *Router) HandleEvent(ctx context.Context, ev Event) (interface{}, error) {
	if len(ev.Records) == 0 {
		return nil, fmt.Errorf("event contains no records")
	}
	req := ev.Records[0].CF.Request

	result := r.Route(ctx, req.URI, req.QueryString)

	switch result.Action {
	case ActionRewrite:
		req.URI = "/" + result.RewriteKey
		// The rendition is addressed by key alone; the parameters are
		// baked into it.
		req.QueryString = ""

		// Renditions live in their own bucket, so the request must stop
		// targeting the distribution's originals origin. The host header
		// has to match the new origin or S3 rejects the request.
		if r.originDomain != "" {
			req.Origin = &Origin{S3: &S3Origin{
				DomainName: r.originDomain,
				AuthMethod: "none",
			}}
			if req.Headers == nil {
				req.Headers = make(map[string][]Header)
			}
			req.Headers["host"] = []Header{{Key: "Host", Value: r.originDomain}}
		}
		return req, nil

	case ActionRespond:
		headers := map[string][]Header{
			"content-type": {{Key: "Content-Type", Value: result.ContentType}},
		}
		return Response{
			Status:            strconv.Itoa(result.Status),
			StatusDescription: statusDescription(result.Status),
			Headers:           headers,
			Body:              base64.StdEncoding.EncodeToString(result.Body),
			BodyEncoding:      "base64",
		}, nil

	default:
		return req, nil
	}
}

func statusDescription(status int) string {
	switch status {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	default:
		return ""
	}
}
