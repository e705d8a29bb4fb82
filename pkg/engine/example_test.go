package engine_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/docstage/docstage/pkg/engine"
)

func ExampleBuildArgs() {
	paths := engine.NewStagedPaths("job", 0)

	args, _ := engine.BuildArgs(engine.Decrypt{Password: "secret"}, paths)
	fmt.Println(args)

	args, _ = engine.BuildArgs(engine.Encrypt{UserPassword: "open", KeyLength: 128}, paths)
	fmt.Println(args)

	// Output:
	// [/job-0-input.pdf --password=secret --decrypt /job-0-output.pdf]
	// [/job-0-input.pdf --encrypt open open 128 -- /job-0-output.pdf]
}

func ExampleKeywordClassifier() {
	c := engine.KeywordClassifier{}

	fmt.Println(c.Classify(engine.OperationDecrypt, "qpdf: in.pdf: invalid password"))
	fmt.Println(c.Classify(engine.OperationLinearize, "qpdf: in.pdf: invalid password"))

	// Output:
	// bad_password
	// generic_failure
}

func ExampleLifecycle_Get() {
	lifecycle := engine.NewLifecycle(func(context.Context) (engine.Engine, error) {
		return nil, errors.New("module not found")
	})
	runner := engine.NewRunner(lifecycle)

	_, err := runner.Run(context.Background(), engine.Linearize{}, []byte("%PDF-1.7"))
	fmt.Println(errors.Is(err, engine.ErrEngineInit))

	var opErr *engine.OperationError
	if errors.As(err, &opErr) {
		fmt.Println(opErr.Retryable())
	}

	// Output:
	// true
	// false
}

func ExampleBatchResult_Summary() {
	result := &engine.BatchResult{SuccessCount: 3, FailureCount: 1}
	fmt.Println(result.Summary())

	// Output:
	// 3 succeeded, 1 failed
}
