package checkpoints

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf wire layout of a checkpoint artifact.
//
//	Checkpoint      { 1 iter_step varint; 2 repeated Component; 3 OptimizerState; 4 Metadata }
//	Component       { 1 name; 2 repeated Tensor }
//	Tensor          { 1 name; 2 packed varint shape; 3 packed fixed32 data; 4 state_type }
//	OptimizerState  { 1 type; 2 repeated Param; 3 repeated Tensor }
//	Param           { 1 key; 2 double value }
//	Metadata        { 1 version; 2 framework; 3 run_id; 4 created_at unix nanos; 5 description }
const (
	fieldCkptIter        protowire.Number = 1
	fieldCkptComponent   protowire.Number = 2
	fieldCkptOptimizer   protowire.Number = 3
	fieldCkptMetadata    protowire.Number = 4
	fieldCompName        protowire.Number = 1
	fieldCompTensor      protowire.Number = 2
	fieldTensorName      protowire.Number = 1
	fieldTensorShape     protowire.Number = 2
	fieldTensorData      protowire.Number = 3
	fieldTensorState     protowire.Number = 4
	fieldOptType         protowire.Number = 1
	fieldOptParam        protowire.Number = 2
	fieldOptTensor       protowire.Number = 3
	fieldParamKey        protowire.Number = 1
	fieldParamValue      protowire.Number = 2
	fieldMetaVersion     protowire.Number = 1
	fieldMetaFramework   protowire.Number = 2
	fieldMetaRunID       protowire.Number = 3
	fieldMetaCreatedAt   protowire.Number = 4
	fieldMetaDescription protowire.Number = 5
)

var errWireType = errors.New("unexpected wire type")

func marshalProto(c *Checkpoint) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldCkptIter, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.IterStep))

	for _, comp := range c.Components {
		var cb []byte
		cb = appendString(cb, fieldCompName, comp.Name)
		for _, w := range comp.Weights {
			if len(w.Data) != shapeSize(w.Shape) {
				return nil, fmt.Errorf("tensor %s.%s: shape %v does not match %d values", comp.Name, w.Name, w.Shape, len(w.Data))
			}
			cb = appendMessage(cb, fieldCompTensor, appendTensor(nil, w.Name, w.Shape, w.Data, ""))
		}
		b = appendMessage(b, fieldCkptComponent, cb)
	}

	if c.OptimizerState != nil {
		var ob []byte
		ob = appendString(ob, fieldOptType, c.OptimizerState.Type)

		keys := make([]string, 0, len(c.OptimizerState.Parameters))
		for k := range c.OptimizerState.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, ok := toFloat64(c.OptimizerState.Parameters[k])
			if !ok {
				return nil, fmt.Errorf("optimizer parameter %s has unsupported type %T", k, c.OptimizerState.Parameters[k])
			}
			var pb []byte
			pb = appendString(pb, fieldParamKey, k)
			pb = protowire.AppendTag(pb, fieldParamValue, protowire.Fixed64Type)
			pb = protowire.AppendFixed64(pb, math.Float64bits(v))
			ob = appendMessage(ob, fieldOptParam, pb)
		}
		for _, t := range c.OptimizerState.StateData {
			ob = appendMessage(ob, fieldOptTensor, appendTensor(nil, t.Name, t.Shape, t.Data, t.StateType))
		}
		b = appendMessage(b, fieldCkptOptimizer, ob)
	}

	var mb []byte
	mb = appendString(mb, fieldMetaVersion, c.Metadata.Version)
	mb = appendString(mb, fieldMetaFramework, c.Metadata.Framework)
	mb = appendString(mb, fieldMetaRunID, c.Metadata.RunID)
	mb = protowire.AppendTag(mb, fieldMetaCreatedAt, protowire.VarintType)
	mb = protowire.AppendVarint(mb, uint64(c.Metadata.CreatedAt.UnixNano()))
	mb = appendString(mb, fieldMetaDescription, c.Metadata.Description)
	b = appendMessage(b, fieldCkptMetadata, mb)

	return b, nil
}

func unmarshalProto(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldCkptIter:
			if typ != protowire.VarintType {
				return errWireType
			}
			c.IterStep = int(x)
		case fieldCkptComponent:
			comp, err := unmarshalComponent(v)
			if err != nil {
				return err
			}
			c.Components = append(c.Components, comp)
		case fieldCkptOptimizer:
			opt, err := unmarshalOptimizer(v)
			if err != nil {
				return err
			}
			c.OptimizerState = opt
		case fieldCkptMetadata:
			meta, err := unmarshalMetadata(v)
			if err != nil {
				return err
			}
			c.Metadata = meta
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func unmarshalComponent(b []byte) (ComponentState, error) {
	var comp ComponentState
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case fieldCompName:
			comp.Name = string(v)
		case fieldCompTensor:
			t, err := unmarshalTensor(v)
			if err != nil {
				return err
			}
			comp.Weights = append(comp.Weights, WeightTensor{Name: t.Name, Shape: t.Shape, Data: t.Data})
		}
		return nil
	})
	return comp, err
}

func unmarshalOptimizer(b []byte) (*OptimizerState, error) {
	opt := &OptimizerState{Parameters: make(map[string]interface{})}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case fieldOptType:
			opt.Type = string(v)
		case fieldOptParam:
			var key string
			var value float64
			err := walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
				switch num {
				case fieldParamKey:
					key = string(v)
				case fieldParamValue:
					if typ != protowire.Fixed64Type {
						return errWireType
					}
					value = math.Float64frombits(x)
				}
				return nil
			})
			if err != nil {
				return err
			}
			opt.Parameters[key] = value
		case fieldOptTensor:
			t, err := unmarshalTensor(v)
			if err != nil {
				return err
			}
			opt.StateData = append(opt.StateData, t)
		}
		return nil
	})
	return opt, err
}

func unmarshalMetadata(b []byte) (CheckpointMetadata, error) {
	var meta CheckpointMetadata
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldMetaVersion:
			meta.Version = string(v)
		case fieldMetaFramework:
			meta.Framework = string(v)
		case fieldMetaRunID:
			meta.RunID = string(v)
		case fieldMetaCreatedAt:
			meta.CreatedAt = time.Unix(0, int64(x))
		case fieldMetaDescription:
			meta.Description = string(v)
		}
		return nil
	})
	return meta, err
}

func unmarshalTensor(b []byte) (OptimizerTensor, error) {
	var t OptimizerTensor
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case fieldTensorName:
			t.Name = string(v)
		case fieldTensorState:
			t.StateType = string(v)
		case fieldTensorShape:
			if typ != protowire.BytesType {
				return errWireType
			}
			for len(v) > 0 {
				d, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				t.Shape = append(t.Shape, int(int64(d)))
				v = v[n:]
			}
		case fieldTensorData:
			if typ != protowire.BytesType || len(v)%4 != 0 {
				return errWireType
			}
			t.Data = make([]float32, 0, len(v)/4)
			for len(v) > 0 {
				bits, n := protowire.ConsumeFixed32(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				t.Data = append(t.Data, math.Float32frombits(bits))
				v = v[n:]
			}
		}
		return nil
	})
	if err != nil {
		return t, err
	}
	if len(t.Data) != shapeSize(t.Shape) {
		return t, fmt.Errorf("tensor %s: shape %v does not match %d values", t.Name, t.Shape, len(t.Data))
	}
	return t, nil
}

// walkFields calls fn for every field in b. Length-delimited payloads are
// passed in v, scalar payloads in x. Unknown fields are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v []byte
		var x uint64
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			x, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var x32 uint32
			x32, n = protowire.ConsumeFixed32(b)
			x = uint64(x32)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(num, typ, v, x); err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
	}
	return nil
}

func appendTensor(b []byte, name string, shape []int, data []float32, stateType string) []byte {
	b = appendString(b, fieldTensorName, name)

	var sb []byte
	for _, d := range shape {
		sb = protowire.AppendVarint(sb, uint64(int64(d)))
	}
	b = appendMessage(b, fieldTensorShape, sb)

	db := make([]byte, 0, 4*len(data))
	for _, f := range data {
		db = protowire.AppendFixed32(db, math.Float32bits(f))
	}
	b = appendMessage(b, fieldTensorData, db)

	if stateType != "" {
		b = appendString(b, fieldTensorState, stateType)
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case uint64:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}

func shapeSize(shape []int) int {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return size
}
