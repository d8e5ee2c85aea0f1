package transfer

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// binaryMarker opens every binary frame. JSON frames always start with '{'.
const binaryMarker byte = 0xB1

const (
	fieldType         protowire.Number = 1
	fieldFileID       protowire.Number = 2
	fieldMeta         protowire.Number = 3
	fieldSegmentCount protowire.Number = 4
	fieldChunkSize    protowire.Number = 5
	fieldIndex        protowire.Number = 6
	fieldData         protowire.Number = 7
	fieldSuccess      protowire.Number = 8
	fieldErrorMessage protowire.Number = 9
)

const (
	metaID       protowire.Number = 1
	metaName     protowire.Number = 2
	metaSize     protowire.Number = 3
	metaType     protowire.Number = 4
	metaChecksum protowire.Number = 5
)

var errMalformedFrame = errors.New("malformed binary frame")

// BinarySerializer encodes messages with the protobuf wire format, which keeps
// segment payloads unescaped.
type BinarySerializer struct{}

func NewBinarySerializer() *BinarySerializer {
	return &BinarySerializer{}
}

func (b *BinarySerializer) Marshal(msg *ChunkMessage) ([]byte, error) {
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
	buf := make([]byte, 0, len(msg.Data)+64)
	buf = append(buf, binaryMarker)

	buf = protowire.AppendTag(buf, fieldType, protowire.BytesType)
	buf = protowire.AppendString(buf, string(msg.Type))
	if msg.FileID != "" {
		buf = protowire.AppendTag(buf, fieldFileID, protowire.BytesType)
		buf = protowire.AppendString(buf, msg.FileID)
	}
	if msg.Meta != nil {
		buf = protowire.AppendTag(buf, fieldMeta, protowire.BytesType)
		buf = protowire.AppendBytes(buf, marshalMeta(msg.Meta))
	}
	if msg.SegmentCount != 0 {
		buf = protowire.AppendTag(buf, fieldSegmentCount, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(msg.SegmentCount)))
	}
	if msg.ChunkSize != 0 {
		buf = protowire.AppendTag(buf, fieldChunkSize, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(msg.ChunkSize)))
	}
	if msg.Index != 0 {
		buf = protowire.AppendTag(buf, fieldIndex, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(msg.Index)))
	}
	if len(msg.Data) > 0 {
		buf = protowire.AppendTag(buf, fieldData, protowire.BytesType)
		buf = protowire.AppendBytes(buf, msg.Data)
	}
	if msg.Success {
		buf = protowire.AppendTag(buf, fieldSuccess, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeBool(true))
	}
	if msg.ErrorMessage != "" {
		buf = protowire.AppendTag(buf, fieldErrorMessage, protowire.BytesType)
		buf = protowire.AppendString(buf, msg.ErrorMessage)
	}
	return buf, nil
}

func marshalMeta(meta *FileMetaInfo) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, metaID, protowire.BytesType)
	buf = protowire.AppendString(buf, meta.ID)
	buf = protowire.AppendTag(buf, metaName, protowire.BytesType)
	buf = protowire.AppendString(buf, meta.Name)
	buf = protowire.AppendTag(buf, metaSize, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(meta.Size))
	buf = protowire.AppendTag(buf, metaType, protowire.BytesType)
	buf = protowire.AppendString(buf, meta.Type)
	if meta.Checksum != "" {
		buf = protowire.AppendTag(buf, metaChecksum, protowire.BytesType)
		buf = protowire.AppendString(buf, meta.Checksum)
	}
	return buf
}

func (b *BinarySerializer) Unmarshal(data []byte) (*ChunkMessage, error) {
	if len(data) == 0 || data[0] != binaryMarker {
		return nil, fmt.Errorf("%w: missing format marker", errMalformedFrame)
	}
	data = data[1:]

	msg := &ChunkMessage{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errMalformedFrame, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: type: %v", errMalformedFrame, protowire.ParseError(n))
			}
			msg.Type = MessageType(v)
			data = data[n:]
		case num == fieldFileID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: file id: %v", errMalformedFrame, protowire.ParseError(n))
			}
			msg.FileID = v
			data = data[n:]
		case num == fieldMeta && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: meta: %v", errMalformedFrame, protowire.ParseError(n))
			}
			meta, err := unmarshalMeta(v)
			if err != nil {
				return nil, err
			}
			msg.Meta = meta
			data = data[n:]
		case (num == fieldSegmentCount || num == fieldChunkSize || num == fieldIndex) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", errMalformedFrame, num, protowire.ParseError(n))
			}
			value := int(protowire.DecodeZigZag(v))
			switch num {
			case fieldSegmentCount:
				msg.SegmentCount = value
			case fieldChunkSize:
				msg.ChunkSize = value
			default:
				msg.Index = value
			}
			data = data[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: data: %v", errMalformedFrame, protowire.ParseError(n))
			}
			msg.Data = append([]byte(nil), v...)
			data = data[n:]
		case num == fieldSuccess && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: success: %v", errMalformedFrame, protowire.ParseError(n))
			}
			msg.Success = protowire.DecodeBool(v)
			data = data[n:]
		case num == fieldErrorMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: error message: %v", errMalformedFrame, protowire.ParseError(n))
			}
			msg.ErrorMessage = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", errMalformedFrame, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !msg.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
	return msg, nil
}

func unmarshalMeta(data []byte) (*FileMetaInfo, error) {
	meta := &FileMetaInfo{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: meta: %v", errMalformedFrame, protowire.ParseError(n))
		}
		data = data[n:]

		if num == metaSize && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: meta size: %v", errMalformedFrame, protowire.ParseError(n))
			}
			meta.Size = protowire.DecodeZigZag(v)
			data = data[n:]
			continue
		}
		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: meta field %d: %v", errMalformedFrame, num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeString(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: meta field %d: %v", errMalformedFrame, num, protowire.ParseError(n))
		}
		switch num {
		case metaID:
			meta.ID = v
		case metaName:
			meta.Name = v
		case metaType:
			meta.Type = v
		case metaChecksum:
			meta.Checksum = v
		}
		data = data[n:]
	}
	return meta, nil
}

func (b *BinarySerializer) Name() string {
	return "binary"
}

func (b *BinarySerializer) IsBinary() bool {
	return true
}
