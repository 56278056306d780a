package reference

import (
	"errors"
	"fmt"
)

// ResolutionError captures descriptor metadata alongside the originating
// failure. It is only ever logged and observed; GetObject never returns it.
type ResolutionError struct {
	Strategy Strategy
	Key      string
	TypeName string
	Err      error
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("reference: %s key=%q type=%q: %v", e.Strategy, e.Key, e.TypeName, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func wrapResolutionError(desc Descriptor, err error) error {
	if err == nil {
		return nil
	}
	var resErr *ResolutionError
	if errors.As(err, &resErr) {
		return err
	}
	return &ResolutionError{
		Strategy: desc.Strategy,
		Key:      desc.Key,
		TypeName: desc.TypeName,
		Err:      err,
	}
}
