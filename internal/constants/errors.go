package constants

import "errors"

// Configuration errors.
var (
	ErrNoBaseURL        = errors.New("no base URL configured, use --base-url or set DOCBRIDGE_BASE_URL")
	ErrNoResource       = errors.New("no resource configured, use --resource or set DOCBRIDGE_RESOURCE")
	ErrNoAuthToken      = errors.New("no auth token configured, use --token or set DOCBRIDGE_TOKEN")
	ErrUnknownFormat    = errors.New("unknown output format")
	ErrUnknownStoreType = errors.New("unknown token store type")
)

// Input errors.
var (
	ErrEmptyRecordFile   = errors.New("record file contains no records")
	ErrInvalidRecordFile = errors.New("record file must contain a list of objects")
)

// Command errors.
var (
	ErrImportIncomplete = errors.New("some records were not created")
	ErrUnknownConfigKey = errors.New("unknown configuration key")
	ErrNoTokenFound     = errors.New("no security token found")
)
