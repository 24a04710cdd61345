package xstream

// decodeRecord translates one raw record into the typed model using the
// client's field and value codecs. The stream key is taken as given, for
// operations where the caller already holds it in typed form.
func decodeRecord[K any, F comparable, V any](c *Client[K, F, V], key K, raw RawRecord) (*Record[K, F, V], error) {
	fields := NewFieldMap[F, V]()
	for _, rf := range raw.Fields {
		f, err := c.fieldCodec.Decode(rf.Key)
		if err != nil {
			return nil, &DecodeError{Codec: c.fieldCodec.Name(), ID: raw.ID, Err: err}
		}
		v, err := c.valueCodec.Decode(rf.Value)
		if err != nil {
			return nil, &DecodeError{Codec: c.valueCodec.Name(), ID: raw.ID, Err: err}
		}
		fields.Set(f, v)
	}
	return &Record[K, F, V]{Key: key, ID: raw.ID, Fields: fields}, nil
}

// decodeKey translates an encoded stream key back into its typed form,
// for multi-stream reads where records come back tagged by stream.
func decodeKey[K any, F comparable, V any](c *Client[K, F, V], raw []byte) (K, error) {
	key, err := c.keyCodec.Decode(raw)
	if err != nil {
		var zero K
		return zero, &DecodeError{Codec: c.keyCodec.Name(), Err: err}
	}
	return key, nil
}

// encodeFields walks the field map in insertion order and encodes each
// pair, so duplicates collapsed by Set and the original ordering both
// survive onto the wire.
func encodeFields[K any, F comparable, V any](c *Client[K, F, V], op string, fields *FieldMap[F, V]) ([]RawField, error) {
	out := make([]RawField, 0, fields.Len())
	for f, v := range fields.All() {
		fk, err := c.fieldCodec.Encode(f)
		if err != nil {
			return nil, argErrf(op, "encode field key (%s): %v", c.fieldCodec.Name(), err)
		}
		fv, err := c.valueCodec.Encode(v)
		if err != nil {
			return nil, argErrf(op, "encode field value (%s): %v", c.valueCodec.Name(), err)
		}
		out = append(out, RawField{Key: fk, Value: fv})
	}
	return out, nil
}
