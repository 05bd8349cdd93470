package core

import (
	"slices"

	com "github.com/mus-format/common-go"
	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	slops "github.com/mus-format/mus-go/options/slice"
	"github.com/mus-format/mus-go/varint"
)

// Serializers the generator cannot produce. The rest live in
// records_mus.gen.go.
var (
	MessageMUS    = messageMUS{}
	PropertiesMUS = propertiesMUS{}
	IssueLogMUS   = issueLogMUS{}
)

// messageMUS encodes only the id and the two flags of a Message.
type messageMUS struct{}

func (messageMUS) Marshal(v Message, bs []byte) (n int) {
	n = ord.String.Marshal(v.ID, bs)
	n += ord.Bool.Marshal(v.ForceBatch(), bs[n:])
	n += ord.Bool.Marshal(v.PoisonPill(), bs[n:])
	return
}

func (messageMUS) Unmarshal(bs []byte) (v Message, n int, err error) {
	v.ID, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var (
		n1            int
		force, poison bool
	)
	force, n1, err = ord.Bool.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	poison, n1, err = ord.Bool.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	switch {
	case force && poison:
		err = ErrInvalidMessage
	case poison:
		v.Kind = MessagePoisonPill
	case force:
		v.Kind = MessageForceBatch
	default:
		v.Kind = MessageNormal
	}
	return
}

func (messageMUS) Size(v Message) (size int) {
	size = ord.String.Size(v.ID)
	size += ord.Bool.Size(v.ForceBatch())
	return size + ord.Bool.Size(v.PoisonPill())
}

func (messageMUS) Skip(bs []byte) (n int, err error) {
	n, err = ord.String.Skip(bs)
	if err != nil {
		return
	}
	var n1 int
	for range 2 {
		n1, err = ord.Bool.Skip(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

// propertiesMUS writes keys in sorted order so equal maps encode
// identically. Lengths above MaxProperties are rejected before anything is
// allocated.
type propertiesMUS struct{}

func (propertiesMUS) Marshal(v Properties, bs []byte) (n int) {
	n = varint.PositiveInt.Marshal(len(v), bs)
	for _, k := range sortedKeys(v) {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(v[k], bs[n:])
	}
	return
}

func (propertiesMUS) Unmarshal(bs []byte) (v Properties, n int, err error) {
	length, n, err := unmarshalPropertiesLen(bs)
	if err != nil || length == 0 {
		return
	}
	v = make(Properties, length)
	var (
		n1     int
		k, val string
	)
	for range length {
		k, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
		val, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
		v[k] = val
	}
	return
}

func (propertiesMUS) Size(v Properties) (size int) {
	size = varint.PositiveInt.Size(len(v))
	for k, val := range v {
		size += ord.String.Size(k) + ord.String.Size(val)
	}
	return
}

func (propertiesMUS) Skip(bs []byte) (n int, err error) {
	length, n, err := unmarshalPropertiesLen(bs)
	if err != nil {
		return
	}
	var n1 int
	for range 2 * length {
		n1, err = ord.String.Skip(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

// unmarshalPropertiesLen reads the entry count. Every entry takes at least
// two bytes, so a count the remaining input cannot hold is truncated data.
func unmarshalPropertiesLen(bs []byte) (length, n int, err error) {
	length, n, err = varint.PositiveInt.Unmarshal(bs)
	switch {
	case err != nil:
	case length < 0:
		err = com.ErrNegativeLength
	case length > MaxProperties:
		err = ErrTooManyProperties
	case 2*length > len(bs)-n:
		err = mus.ErrTooSmallByteSlice
	}
	return
}

func sortedKeys(m Properties) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

var issueSliceMUS = ord.NewValidSliceSer[ImportIssue](ImportIssueMUS,
	slops.WithLenValidator[ImportIssue](com.ValidatorFn[int](validateIssueCount)))

func validateIssueCount(length int) error {
	if length > MaxIssues {
		return ErrTooManyIssues
	}
	return nil
}

// issueLogMUS decodes an empty log as nil.
type issueLogMUS struct{}

func (issueLogMUS) Marshal(v IssueLog, bs []byte) (n int) {
	return issueSliceMUS.Marshal(v, bs)
}

func (issueLogMUS) Unmarshal(bs []byte) (v IssueLog, n int, err error) {
	issues, n, err := issueSliceMUS.Unmarshal(bs)
	if err != nil || len(issues) == 0 {
		return nil, n, err
	}
	return issues, n, nil
}

func (issueLogMUS) Size(v IssueLog) int {
	return issueSliceMUS.Size(v)
}

func (issueLogMUS) Skip(bs []byte) (n int, err error) {
	return issueSliceMUS.Skip(bs)
}
