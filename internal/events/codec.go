package events

import (
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"FlightSurety/internal/identity"
	"FlightSurety/internal/types"
)

// Encode serializes an event as a FlatBuffers Event table.
func Encode(ev Event) []byte {
	builder := flatbuffers.NewBuilder(256 + len(ev.Voters)*identity.Size + len(ev.Signature))

	actorVec := builder.CreateByteVector(ev.Actor[:])
	subjectVec := builder.CreateByteVector(ev.Subject[:])
	flightStr := builder.CreateString(ev.Flight)
	indexesVec := builder.CreateByteVector(ev.Indexes[:])
	votersVec := builder.CreateByteVector(flattenVoters(ev.Voters))

	var sigVec flatbuffers.UOffsetT
	if len(ev.Signature) > 0 {
		sigVec = builder.CreateByteVector(ev.Signature)
	}

	types.EventStart(builder)
	types.EventAddSeq(builder, ev.Seq)
	types.EventAddKind(builder, byte(ev.Kind))
	if !ev.Time.IsZero() {
		types.EventAddTime(builder, ev.Time.UnixNano())
	}
	types.EventAddActor(builder, actorVec)
	types.EventAddSubject(builder, subjectVec)
	types.EventAddIndex(builder, ev.Index)
	types.EventAddFlight(builder, flightStr)
	types.EventAddTimestamp(builder, ev.Timestamp)
	types.EventAddStatus(builder, ev.Status)
	types.EventAddAmount(builder, ev.Amount)
	types.EventAddIndexes(builder, indexesVec)
	types.EventAddVoters(builder, votersVec)
	if len(ev.Signature) > 0 {
		types.EventAddSignature(builder, sigVec)
	}

	builder.Finish(types.EventEnd(builder))

	return builder.FinishedBytes()
}

// Decode parses a FlatBuffers Event table.
func Decode(data []byte) (ev Event, err error) {
	if len(data) < 8 {
		return ev, fmt.Errorf("event too short: %d bytes", len(data))
	}

	// Malformed offsets make the flatbuffers accessors panic.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed event: %v", r)
		}
	}()

	fb := types.GetRootAsEvent(data, 0)

	ev.Seq = fb.Seq()
	ev.Kind = Kind(fb.Kind())
	if ns := fb.Time(); ns != 0 {
		ev.Time = time.Unix(0, ns)
	}
	ev.Index = fb.Index()
	ev.Flight = string(fb.Flight())
	ev.Timestamp = fb.Timestamp()
	ev.Status = fb.Status()
	ev.Amount = fb.Amount()

	if ev.Actor, err = identity.FromBytes(fb.ActorBytes()); err != nil {
		return ev, fmt.Errorf("actor:\n%w", err)
	}

	if ev.Subject, err = identity.FromBytes(fb.SubjectBytes()); err != nil {
		return ev, fmt.Errorf("subject:\n%w", err)
	}

	if idx := fb.IndexesBytes(); len(idx) == len(ev.Indexes) {
		copy(ev.Indexes[:], idx)
	} else {
		return ev, fmt.Errorf("invalid indexes length: %d", len(idx))
	}

	if ev.Voters, err = splitVoters(fb.VotersBytes()); err != nil {
		return ev, err
	}

	if sig := fb.SignatureBytes(); len(sig) > 0 {
		ev.Signature = append([]byte(nil), sig...)
	}

	return ev, nil
}

// flattenVoters concatenates voter addresses.
func flattenVoters(voters []identity.Address) []byte {
	out := make([]byte, 0, len(voters)*identity.Size)
	for _, v := range voters {
		out = append(out, v[:]...)
	}
	return out
}

// splitVoters is the inverse of flattenVoters.
func splitVoters(data []byte) ([]identity.Address, error) {
	if len(data)%identity.Size != 0 {
		return nil, fmt.Errorf("invalid voters length: %d", len(data))
	}

	if len(data) == 0 {
		return nil, nil
	}

	voters := make([]identity.Address, len(data)/identity.Size)
	for i := range voters {
		copy(voters[i][:], data[i*identity.Size:])
	}

	return voters, nil
}
