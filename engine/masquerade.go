package engine

// MasqueradeLocked moves the guts of clone into original. Afterwards
// original carries clone's name, technology, state and pending frames,
// while clone is left a renamed zombie holding original's old
// technology, which gets disconnected here through its hangup
// callback. Bridge pointers stay with their objects.
//
// The caller must hold both channel locks. Channel locks may be
// yielded briefly by the callbacks involved, but both are held again
// when this returns.
func MasqueradeLocked(original, clone *Channel) {
	origName := original.name
	newName := clone.name

	coreLog.Debugf("masquerading %s into %s", newName, origName)

	// Rename first so observers never see two channels sharing a name.
	clone.name = newName + "<MASQ>"
	renameLocked(clone, newName)
	original.name = newName
	renameLocked(original, origName)

	original.tech, clone.tech = clone.tech, original.tech
	original.techPvt, clone.techPvt = clone.techPvt, original.techPvt

	original.readQ, clone.readQ = clone.readQ, original.readQ
	original.state, clone.state = clone.state, original.state

	original.nativeFormats, clone.nativeFormats = clone.nativeFormats, original.nativeFormats
	original.readFormat, clone.readFormat = clone.readFormat, original.readFormat
	original.writeFormat, clone.writeFormat = clone.writeFormat, original.writeFormat

	original.Monitor, clone.Monitor = clone.Monitor, original.Monitor

	// Caller identity travels with the guts. Connected line stays with
	// its object.
	original.Caller, clone.Caller = clone.Caller, original.Caller
	original.Redirecting, clone.Redirecting = clone.Redirecting, original.Redirecting
	original.Dialed, clone.Dialed = clone.Dialed, original.Dialed

	original.Language = clone.Language
	original.MusicClass = clone.MusicClass

	// Variables and datastores follow the guts onto the survivor.
	original.vars = append(original.vars, clone.vars...)
	clone.vars = nil
	original.datastores = append(original.datastores, clone.datastores...)
	clone.datastores = nil

	// Let the technology that moved in know where it lives now.
	if original.tech != nil {
		if err := original.tech.Fixup(clone, original); err != nil {
			coreLog.Warnf("fixup of %s failed after masquerade: %v", original.name, err)
		}
	}

	// Disconnect the technology that moved out; it now sits on clone.
	if clone.tech != nil {
		if err := clone.tech.Hangup(clone); err != nil {
			coreLog.Warnf("hangup of displaced technology on %s failed: %v", clone.name, err)
		}
	}

	clone.name = origName + "<ZOMBIE>"
	renameLocked(clone, newName+"<MASQ>")
	clone.zombie = true

	// Wake both readers: the survivor may have inherited frames, the
	// zombie's controller must notice it is dead.
	clone.QueueFrameLocked(Frame{Kind: FrameNull})
	select {
	case original.alert <- struct{}{}:
	default:
	}

	coreLog.Debugf("done masquerading %s (%s)", original.name, original.state)
}
