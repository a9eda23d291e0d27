package sync

// PassthroughConverter implements Converter for adapters that already
// produce fully-formed Records and Changes during FullIterator/Peek
// (every adapter in internal/adapter converts inline via internal/convert
// as it reads), so the coordinator's conversion step is a no-op.
type PassthroughConverter struct{}

func (PassthroughConverter) ConvertRecord(table string, id Id, fields Record) (Record, error) {
	return fields, nil
}

func (PassthroughConverter) ConvertChange(c Change) (Change, error) {
	return c, nil
}

var _ Converter = PassthroughConverter{}
