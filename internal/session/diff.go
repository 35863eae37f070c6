package session

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~dlee/ttcom/internal/attrdict"
)

// subBitNames returns the bit names for sublocal/subpeer reporting,
// which differ between TT4 and TT5 (TT5 inserts a spare "notUsed" bit and
// adds a stream bit).
func (s *Server) subBitNames() []string {
	if s.is5() {
		return []string{
			"user messages", "channel messages",
			"broadcast messages", "notUsed",
			"audio", "video",
			"desktop", "desktopAccess",
			"stream",
		}
	}
	return []string{
		"user messages", "channel messages",
		"broadcast messages",
		"audio", "video",
		"desktop", "desktopAccess",
	}
}

var subBitLettersTT5 = []string{
	"u", "c", "b", "0", "a", "v", "d", "x", "s", "1", "2", "3", "4", "5", "6", "7",
	"U", "C", "B", "00", "A", "V", "D", "X", "S", "11", "22", "33", "44", "55", "66", "77",
}

var subBitLettersTT4 = []string{
	"u", "c", "b", "a", "v", "d", "x", "s",
	"U", "C", "B", "A", "V", "D", "X", "S",
}

// UpdateParms merges newParms into parms and reports what changed via
// outputFromEvent, unless silent is set. If preserve is non-empty, every
// existing key in parms not named in preserve or present in newParms is
// dropped first (newParms replaces parms except for the preserved keys).
func (s *Server) UpdateParms(category string, parms, newParms attrdict.Dict, silent bool, preserve ...string) {
	oldParms := parms.Copy()
	if len(preserve) > 0 {
		kept := attrdict.New()
		for _, k := range preserve {
			if v, ok := oldParms.Get(k); ok {
				kept.Set(k, v)
			}
		}
		parms.Clear()
		parms.Update(kept)
	}
	parms.Update(newParms)

	_, hasParentID := newParms.Get("parentid")
	_, hadChanID := oldParms.Get("chanid")
	_, hasName := newParms.Get("name")
	if (hasParentID && hadChanID) || hasName {
		s.updateChannelValue(parms)
	}

	_, hasMode := newParms.Get("statusmode")
	_, hasMsg := newParms.Get("statusmsg")
	if (hasMode || hasMsg) && !parms.Has("statustime") {
		parms.Set("statustime", formatUnixTime(time.Now()))
	}

	if silent {
		return
	}

	all := map[string]struct{}{}
	for _, k := range oldParms.Keys() {
		all[k] = struct{}{}
	}
	for _, k := range parms.Keys() {
		all[k] = struct{}{}
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []string
	statusDone := false
	for _, k := range keys {
		if k == "statustime" {
			continue
		}
		v1, _ := oldParms.Get(k)
		v2, _ := parms.Get(k)

		if k == "statusmsg" || k == "statusmode" {
			if v1 == v2 {
				continue
			}
			if !statusDone {
				s.doStatus(&buf, parms, oldParms)
			}
			statusDone = true
			continue
		}

		if k == "sublocal" || k == "subpeer" {
			if v1 == v2 {
				continue
			}
			buf = append(buf, s.describeSubscriptionDiff(k, v1, v2))
			continue
		}

		if k == "udpaddr" {
			v1 = stripUDPPort(v1)
			v2 = stripUDPPort(v2)
		}

		if v1 == v2 || (v1 == "" && v2 == "") {
			continue
		} else if v1 != "" && v2 == "" {
			buf = append(buf, fmt.Sprintf("%s cleared", k))
			continue
		} else if v2 != "" && v1 == "" {
			buf = append(buf, fmt.Sprintf("%s \"%s\"", k, v2))
			continue
		}

		if strings.HasPrefix(v1, "[") && strings.HasPrefix(v2, "[") {
			l1 := splitBracketList(v1)
			l2 := splitBracketList(v2)
			if len(l1) == len(l2) {
				for i := range l1 {
					if l1[i] != l2[i] {
						buf = appendIncludeUpdate(buf, fmt.Sprintf("%s[%d]", k, i+1), l1[i], l2[i])
					}
				}
				continue
			}
		}
		buf = appendIncludeUpdate(buf, k, v1, v2)
	}

	if len(buf) == 0 {
		return
	}
	line := strings.Join(buf, ", ")
	if category != "" {
		line = category + ": " + line
	}
	s.outputFromEvent(line)
}

func appendIncludeUpdate(buf []string, name, v1, v2 string) []string {
	if v1 == v2 {
		return buf
	}
	if name == "nickname" {
		return append(buf, fmt.Sprintf("%s changed to \"%s\"", name, v2))
	}
	return append(buf, fmt.Sprintf("%s changed from \"%s\" to \"%s\"", name, v1, v2))
}

func splitBracketList(v string) []string {
	if len(v) < 2 {
		return nil
	}
	inner := v[1 : len(v)-1]
	if inner == "" {
		return []string{""}
	}
	return strings.Split(inner, ",")
}

func stripUDPPort(addr string) string {
	i := strings.LastIndex(addr, ":")
	if i >= 0 {
		addr = addr[:i]
	}
	if addr == "[::]" || addr == "0.0.0.0" {
		return ""
	}
	return addr
}

// updateChannelValue recomputes chan["channel"] (the full "/"-delimited
// path) from name/parentid, for TT5 servers where updatechannel frames
// don't repeat the .channel property.
func (s *Server) updateChannelValue(chanParms attrdict.Dict) {
	path := "/"
	cur := chanParms
	for {
		parentID, _ := cur.Get("parentid")
		if parentID == "" || parentID == "0" {
			break
		}
		name, _ := cur.Get("name")
		path = "/" + name + path
		next, ok := s.Channels[parentID]
		if !ok {
			break
		}
		cur = next
	}
	chanParms.Set("channel", path)
}

func formatUnixTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// describeSubscriptionDiff renders the bit-by-bit +name/-name summary of
// a sublocal or subpeer change. Lowercase letters are subscriptions,
// uppercase are intercepts; see subBitNames for the longer names.
func (s *Server) describeSubscriptionDiff(key, v1, v2 string) string {
	var bitcount int
	var letters []string
	if s.is5() {
		bitcount = 32
		letters = subBitLettersTT5
	} else {
		bitcount = 16
		letters = subBitLettersTT4
	}
	label := "local subscription changes"
	if key == "subpeer" {
		label = "remote subscription changes"
	}

	n1, _ := strconv.Atoi(emptyToZero(v1))
	n2, _ := strconv.Atoi(emptyToZero(v2))

	var parts []string
	mask := 1
	for b := 0; b < bitcount; b++ {
		b1, b2 := 0, 0
		if v1 != "" {
			b1 = n1 & mask
		}
		if v2 != "" {
			b2 = n2 & mask
		}
		if b1 != b2 {
			sign := "-"
			if b2 != 0 && b1 == 0 {
				sign = "+"
			}
			name := fmt.Sprintf("bit%d", b)
			if b < len(letters) {
				name = letters[b]
			}
			parts = append(parts, sign+name)
		}
		mask <<= 1
	}
	return fmt.Sprintf("%s: %s", label, strings.Join(parts, " "))
}

func emptyToZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}

// doStatus appends a human-readable status-change summary to buf,
// reporting only changed flags and always reporting a present status
// message.
func (s *Server) doStatus(buf *[]string, parms, oldParms attrdict.Dict) {
	oldStat, _ := strconv.Atoi(emptyToZero(oldParms.GetDefault("statusmode", "0")))
	newStat, _ := strconv.Atoi(emptyToZero(parms.GetDefault("statusmode", "0")))

	var changes []string
	bitsLeft := 0xFFFFFFFF
	changes = append(changes, s.doFlagBits(oldStat, newStat, 3, []string{"active", "idle", "question", "stat3"})...)
	bitsLeft ^= 3
	changes = append(changes, s.doFlagBits(oldStat, newStat, 256, []string{"male", "female"})...)
	bitsLeft ^= 256
	changes = append(changes, s.doFlagBits(oldStat, newStat, 512, []string{"disabled video", "enabled video"})...)
	bitsLeft ^= 512
	changes = append(changes, s.doFlagBits(oldStat, newStat, 2048, []string{"stopped streaming", "started streaming"})...)
	bitsLeft ^= 2048
	changes = append(changes, s.doFlagBits(oldStat, newStat, bitsLeft, nil)...)

	line := strings.Join(changes, ", ")
	stat := parms.GetDefault("statusmsg", "")
	oldMsg := oldParms.GetDefault("statusmsg", "")

	switch {
	case stat != "":
		if line != "" {
			line += fmt.Sprintf(" (%s)", stat)
		} else {
			line = fmt.Sprintf("message %q", stat)
		}
	case line == "" && oldMsg != "":
		line = "message cleared"
	}
	if line == "" {
		return
	}
	s.play("status.wav")
	now := time.Now()
	var diff string
	if t, ok := parms.Get("statustime"); ok && t != "" {
		secs, _ := strconv.ParseInt(t, 10, 64)
		diff = secsToTime(now.Sub(time.Unix(secs, 0)))
	}
	parms.Set("statustime", formatUnixTime(now))
	statBuf := ""
	if strings.Trim(strings.ReplaceAll(diff, "0", ""), ":") != "" {
		statBuf = fmt.Sprintf(" after %s", diff)
	}
	*buf = append(*buf, fmt.Sprintf("status %s%s", line, statBuf))
}

func secsToTime(d time.Duration) string {
	secs := int64(d.Seconds() + 0.5)
	mm, ss := secs/60, secs%60
	hh, mm := mm/60, mm%60
	return fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss)
}

// doFlagBits reports what changed between oldval and newval within the
// mask bits. When names has one entry per possible combined value of the
// selected bits (len(names) == repacked mask + 1, i.e. 2^bit-count), the bits are named
// as a single unit (e.g. a 2-bit status field naming all 4 states);
// otherwise each bit is reported individually as onN/offN by 1-based
// position.
func (s *Server) doFlagBits(oldval, newval, bits int, names []string) []string {
	if bits == 0 {
		bits = 0xFFFFFFFF
	}
	cbits, coldval, cnewval, cnt := collectBits(bits, oldval, newval)

	var changes []string
	if len(names) == cbits+1 {
		if coldval&cbits != cnewval&cbits {
			changes = append(changes, names[cnewval])
		}
		return changes
	}
	for i := 0; i < cnt; i++ {
		o := coldval & 1
		n := cnewval & 1
		var label string
		switch {
		case n != 0 && o == 0:
			label = fmt.Sprintf("on%d", i+1)
		case o != 0 && n == 0:
			label = fmt.Sprintf("off%d", i+1)
		}
		if label != "" {
			changes = append(changes, label)
		}
		coldval >>= 1
		cnewval >>= 1
	}
	return changes
}

// collectBits packs the bits selected by mask down to the LSB end of
// oldval/newval, returning the repacked mask, values, and bit count.
func collectBits(bits0, oldval0, newval0 int) (bits, oldval, newval, cnt int) {
	newbit := 1
	for bits0 != 0 {
		if bits0&1 != 0 {
			bits |= newbit
			if oldval0&1 != 0 {
				oldval |= newbit
			}
			if newval0&1 != 0 {
				newval |= newbit
			}
			newbit <<= 1
			cnt++
		}
		bits0 >>= 1
		oldval0 >>= 1
		newval0 >>= 1
	}
	return
}
