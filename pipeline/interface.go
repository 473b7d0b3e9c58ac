package pipeline

import "context"

type Pipeline interface {
	Run(ctx context.Context, sub Submission) (*Result, error)
}
