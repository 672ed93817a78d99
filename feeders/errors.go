package feeders

import "errors"

var (
	ErrInvalidStructure  = errors.New("target must be a pointer to a struct")
	ErrUnsupportedFormat = errors.New("unsupported config file format")
	ErrFieldCannotBeSet  = errors.New("field cannot be set")
	ErrInvalidLine       = errors.New("invalid .env line format")
)
