// Package localchan implements the Local channel technology: pairs of
// proxy endpoints that pass frames to each other inside the engine, so
// one leg of a call can run routing logic while the other looks like
// any ordinary channel. Once both ends of a pair are bridged the pair
// collapses out of the media path by masquerading the two real
// channels together, unless the n option forbids it.
package localchan
