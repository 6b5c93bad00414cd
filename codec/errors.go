package codec

import "github.com/veilnet/veil/verror"

// decodeErr wraps err (or a bare reason) as a verror.Decode-kind error.
func decodeErr(reason string, err error) *verror.Error {
	return verror.Wrap(verror.Decode, reason, err)
}

func invalidObjectErr(reason string) *verror.Error {
	return verror.New(verror.InvalidObject, reason)
}

func invalidShardErr(reason string) *verror.Error {
	return verror.New(verror.InvalidShard, reason)
}
