// Package invoke implements the function-invocation contract over AWS
// Lambda, with synchronous and fire-and-forget dispatch disciplines.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/galerly/transform/pkg/errors"
	"github.com/galerly/transform/pkg/types"
)

// Config represents Lambda invoker configuration
type Config struct {
	Region  string        `yaml:"region"`
	Timeout time.Duration `yaml:"timeout"`
}

// LambdaInvoker dispatches payloads to a named Lambda function.
type LambdaInvoker struct {
	client   *lambda.Client
	function string
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Lambda invoker for the given function name.
func New(ctx context.Context, functionName string, cfg *Config) (*LambdaInvoker, error) {
	if functionName == "" {
		return nil, fmt.Errorf("function name cannot be empty")
	}
	if cfg == nil {
		cfg = &Config{Timeout: 25 * time.Second}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &LambdaInvoker{
		client:   lambda.NewFromConfig(awsCfg),
		function: functionName,
		timeout:  cfg.Timeout,
		logger:   slog.Default().With("component", "lambda-invoker", "function", functionName),
	}, nil
}

// Invoke runs the transform synchronously and returns its raw response
// payload. Every invocation carries a hard wall-clock budget; exceeding
// it is a Timeout failure, never a hang.
func (l *LambdaInvoker) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(l.function),
		Payload:      payload,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(errors.ErrCodeOperationTimeout,
				"transform invocation exceeded its budget", err).
				WithComponent("lambda-invoker").WithOperation("Invoke")
		}
		return nil, errors.Wrap(errors.ErrCodeInvocationFailed,
			"transform invocation failed", err).
			WithComponent("lambda-invoker").WithOperation("Invoke")
	}

	// A function error means the runtime killed the transform (timeout,
	// out of memory, panic); its payload is the runtime's error report,
	// not the wire shape. Handled engine failures arrive with no function
	// error and the wire shape in the payload.
	if out.FunctionError != nil {
		l.logger.Warn("transform function reported error", "function_error", *out.FunctionError)
		return translateFunctionError(*out.FunctionError, out.Payload)
	}

	return out.Payload, nil
}

// runtimeErrorReport is the payload Lambda produces when the runtime
// terminates a function, e.g. {"errorMessage":"...","errorType":"Sandbox.Timedout"}.
type runtimeErrorReport struct {
	ErrorMessage string `json:"errorMessage"`
	ErrorType    string `json:"errorType"`
}

// translateFunctionError classifies a function-error payload. A payload
// already in the wire error shape passes through for the caller to
// interpret; anything else becomes a structured error so no caller ever
// mistakes a runtime kill for transformed bytes.
func translateFunctionError(functionError string, payload []byte) ([]byte, error) {
	var resp types.InvocationResponse
	if err := json.Unmarshal(payload, &resp); err == nil && resp.ErrorKind != "" {
		return payload, nil
	}

	var report runtimeErrorReport
	_ = json.Unmarshal(payload, &report)

	message := report.ErrorMessage
	if message == "" {
		message = functionError
	}

	if strings.Contains(report.ErrorType, "Timedout") ||
		strings.Contains(strings.ToLower(message), "timed out") {
		return nil, errors.NewError(errors.ErrCodeOperationTimeout,
			fmt.Sprintf("transform killed at its runtime limit: %s", message)).
			WithComponent("lambda-invoker").WithOperation("Invoke")
	}
	return nil, errors.NewError(errors.ErrCodeInvocationFailed,
		fmt.Sprintf("transform function failed: %s", message)).
		WithComponent("lambda-invoker").WithOperation("Invoke")
}

// InvokeAsync triggers the transform without waiting for the result. The
// dispatch is at-most-once-triggered and the outcome is ignored; callers
// rely on the next request for the same cache key finding the rendition.
func (l *LambdaInvoker) InvokeAsync(ctx context.Context, payload []byte) error {
	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(l.function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvocationFailed,
			"async transform dispatch failed", err).
			WithComponent("lambda-invoker").WithOperation("InvokeAsync")
	}

	l.logger.Debug("async transform dispatched", "status", out.StatusCode)
	return nil
}
