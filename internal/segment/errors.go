package segment

import "github.com/fusiyuan2010/cuttdb/pkg/errors"

func errCorruptSegment(msg string) error {
	return errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, msg)
}

func errIO(err error, msg string) error {
	return errors.NewStorageError(err, errors.ErrorCodeIO, msg)
}

func errNoFreeFid() error {
	return errors.NewStorageError(nil, errors.ErrorCodeNoFreeFid, "exhausted all fid probes")
}
