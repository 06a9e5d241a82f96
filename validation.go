package nettap

import "errors"

// Validator accumulates parse/structural errors found while inspecting a
// packet's fields, so codecs can report "kind-tagged" drops to the
// packet handler instead of panicking or returning on the first error.
// The zero value is ready to use.
type Validator struct {
	accum []error
}

// AddError appends an error found during validation.
func (v *Validator) AddError(err error) {
	if err != nil {
		v.accum = append(v.accum, err)
	}
}

// HasError reports whether any error has been accumulated since the last Reset.
func (v *Validator) HasError() bool { return len(v.accum) > 0 }

// Err returns the accumulated validation error, or nil if none were found.
func (v *Validator) Err() error {
	switch len(v.accum) {
	case 0:
		return nil
	case 1:
		return v.accum[0]
	default:
		return errors.Join(v.accum...)
	}
}

// ErrPop returns and clears the accumulated validation error.
func (v *Validator) ErrPop() error {
	err := v.Err()
	v.Reset()
	return err
}

// Reset clears accumulated errors so the Validator can be reused.
func (v *Validator) Reset() {
	v.accum = v.accum[:0]
}
