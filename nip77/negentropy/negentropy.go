package negentropy

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
)

const (
	protocolVersion byte = 0x61 // version 1
	buckets              = 16
)

var ErrAlreadyInitiated = errors.New("negentropy session already initiated")

// Negentropy is one side of a reconciliation. The side that calls Initiate() is the client,
// the other one only ever calls Reconcile().
type Negentropy struct {
	storage          Storage
	frameSizeLimit   int
	initiated        bool
	isClient         bool
	lastTimestampIn  uint64
	lastTimestampOut uint64
}

func New(storage Storage, frameSizeLimit int) (*Negentropy, error) {
	if frameSizeLimit == 0 {
		frameSizeLimit = math.MaxInt
	} else if frameSizeLimit < 4096 {
		return nil, fmt.Errorf("frameSizeLimit can't be smaller than 4096, was %d", frameSizeLimit)
	}

	return &Negentropy{
		storage:        storage,
		frameSizeLimit: frameSizeLimit,
	}, nil
}

func (n *Negentropy) String() string {
	label := "uninitialized"
	if n.initiated {
		label = "server"
		if n.isClient {
			label = "client"
		}
	}
	return fmt.Sprintf("<Negentropy %s with %d items>", label, n.storage.Size())
}

// Initiate returns the first message, hex-encoded.
func (n *Negentropy) Initiate() (string, error) {
	if n.initiated {
		return "", ErrAlreadyInitiated
	}
	n.initiated = true
	n.isClient = true

	output := bytes.NewBuffer(make([]byte, 0, 1+n.storage.Size()*32))
	output.WriteByte(protocolVersion)
	n.lastTimestampOut = 0
	n.splitRange(0, n.storage.Size(), InfiniteBound, output)

	return hex.EncodeToString(output.Bytes()), nil
}

// Reconcile processes a message from the other side and returns the reply.
// On the client side have holds ids only we have and need holds ids only they have, and an empty
// next means the reconciliation is finished.
func (n *Negentropy) Reconcile(msg string) (next string, have [][32]byte, need [][32]byte, err error) {
	msgb, err := hex.DecodeString(msg)
	if err != nil {
		return "", nil, nil, fmt.Errorf("invalid hex: %w", err)
	}
	if !n.isClient {
		n.initiated = true
	}

	output, have, need, err := n.reconcileAux(bytes.NewReader(msgb))
	if err != nil {
		return "", nil, nil, err
	}

	if len(output) == 1 && n.isClient {
		return "", have, need, nil
	}

	return hex.EncodeToString(output), have, need, nil
}

func (n *Negentropy) reconcileAux(reader *bytes.Reader) ([]byte, [][32]byte, [][32]byte, error) {
	n.lastTimestampIn, n.lastTimestampOut = 0, 0 // reset for each message

	var have, need [][32]byte

	fullOutput := bytes.NewBuffer(make([]byte, 0, 5000))
	fullOutput.WriteByte(protocolVersion)

	pv, err := reader.ReadByte()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read protocol version: %w", err)
	}
	if pv != protocolVersion {
		if n.isClient {
			return nil, nil, nil, fmt.Errorf("unsupported negentropy protocol version %x", pv)
		}

		// servers just answer with the version they support
		return fullOutput.Bytes(), nil, nil, nil
	}

	var prevBound Bound
	prevIndex := 0
	coveredIndex := 0 // everything before this is already described in fullOutput
	skipping := false // ranges are being coalesced into a single skip

	partialOutput := bytes.NewBuffer(make([]byte, 0, 100))
	for reader.Len() > 0 {
		partialOutput.Reset()
		timestampOutBefore := n.lastTimestampOut

		finishSkip := func() {
			if skipping {
				skipping = false
				n.writeBound(partialOutput, prevBound)
				partialOutput.WriteByte(byte(SkipMode))
			}
		}

		currBound, err := n.readBound(reader)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to decode bound: %w", err)
		}
		modeVal, err := readVarInt(reader)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to decode mode: %w", err)
		}
		mode := Mode(modeVal)

		lower := prevIndex
		upper := n.storage.FindLowerBound(prevIndex, n.storage.Size(), currBound)

		switch mode {
		case SkipMode:
			skipping = true

		case FingerprintMode:
			var theirFingerprint [FingerprintSize]byte
			if _, err := readFull(reader, theirFingerprint[:]); err != nil {
				return nil, nil, nil, fmt.Errorf("failed to read fingerprint: %w", err)
			}

			if theirFingerprint == n.storage.Fingerprint(lower, upper) {
				skipping = true
			} else {
				finishSkip()
				n.splitRange(lower, upper, currBound, partialOutput)
			}

		case IdListMode:
			numIds, err := readVarInt(reader)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to decode number of ids: %w", err)
			}

			theirItems := make(map[[32]byte]struct{}, min(numIds, 1024))
			for i := 0; i < numIds; i++ {
				var id [32]byte
				if _, err := readFull(reader, id[:]); err != nil {
					return nil, nil, nil, fmt.Errorf("failed to read id (#%d/%d) in list: %w", i, numIds, err)
				}
				theirItems[id] = struct{}{}
			}

			if n.isClient {
				for _, item := range n.storage.Range(lower, upper) {
					if _, theyHave := theirItems[item.ID]; theyHave {
						delete(theirItems, item.ID)
					} else {
						have = append(have, item.ID)
					}
				}
				for id := range theirItems {
					need = append(need, id)
				}

				// this range is settled
				skipping = true
			} else {
				// reply with our own ids for the same range
				finishSkip()

				responseIds := make([]byte, 0, 32*100)
				responses := 0
				endBound := currBound
				truncated := false

				for index, item := range n.storage.Range(lower, upper) {
					if n.frameSizeLimit-200 < fullOutput.Len()+partialOutput.Len()+len(responseIds) {
						endBound = Bound{item.Timestamp, item.ID[:]}
						upper = index
						truncated = true
						break
					}
					responseIds = append(responseIds, item.ID[:]...)
					responses++
				}

				n.writeBound(partialOutput, endBound)
				partialOutput.WriteByte(byte(IdListMode))
				writeVarInt(partialOutput, responses)
				partialOutput.Write(responseIds)

				fullOutput.Write(partialOutput.Bytes())
				partialOutput.Reset()
				coveredIndex = upper

				if truncated {
					n.writeRemainder(fullOutput, upper)
					return fullOutput.Bytes(), have, need, nil
				}
			}

		default:
			return nil, nil, nil, fmt.Errorf("unexpected mode %d", mode)
		}

		if n.frameSizeLimit-200 < fullOutput.Len()+partialOutput.Len() {
			// too big, describe everything not yet covered with a single fingerprint and stop
			n.lastTimestampOut = timestampOutBefore
			n.writeRemainder(fullOutput, coveredIndex)
			break
		} else if partialOutput.Len() > 0 {
			fullOutput.Write(partialOutput.Bytes())
			coveredIndex = upper
		}

		prevIndex = upper
		prevBound = currBound
	}

	return fullOutput.Bytes(), have, need, nil
}

func (n *Negentropy) writeRemainder(output *bytes.Buffer, from int) {
	remainingFingerprint := n.storage.Fingerprint(from, n.storage.Size())
	n.writeBound(output, InfiniteBound)
	output.WriteByte(byte(FingerprintMode))
	output.Write(remainingFingerprint[:])
}

func (n *Negentropy) splitRange(lower, upper int, upperBound Bound, output *bytes.Buffer) {
	numElems := upper - lower

	if numElems < buckets*2 {
		// just send the full ids
		n.writeBound(output, upperBound)
		output.WriteByte(byte(IdListMode))
		writeVarInt(output, numElems)

		for _, item := range n.storage.Range(lower, upper) {
			output.Write(item.ID[:])
		}
		return
	}

	itemsPerBucket := numElems / buckets
	bucketsWithExtra := numElems % buckets
	curr := lower

	for i := 0; i < buckets; i++ {
		bucketSize := itemsPerBucket
		if i < bucketsWithExtra {
			bucketSize++
		}
		ourFingerprint := n.storage.Fingerprint(curr, curr+bucketSize)
		curr += bucketSize

		var nextBound Bound
		if curr == upper {
			nextBound = upperBound
		} else {
			var prevItem, currItem Item
			for index, item := range n.storage.Range(curr-1, curr+1) {
				if index == curr-1 {
					prevItem = item
				} else {
					currItem = item
				}
			}
			nextBound = getMinimalBound(prevItem, currItem)
		}

		n.writeBound(output, nextBound)
		output.WriteByte(byte(FingerprintMode))
		output.Write(ourFingerprint[:])
	}
}
