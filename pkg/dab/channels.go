// Package dab holds the units and constants shared by the device layer:
// frequencies, gains and the Band III channel plan.
package dab

import "strings"

// DefaultSampleRate is the sample rate of the DAB baseband, 2.048 MSps.
const DefaultSampleRate = 2048000

type Channel struct {
	Name      string
	Frequency Frequency
}

// Channels is the Band III channel plan, 5A through 13F.
var Channels = []Channel{
	{"5A", KHz(174928)},
	{"5B", KHz(176640)},
	{"5C", KHz(178352)},
	{"5D", KHz(180064)},
	{"6A", KHz(181936)},
	{"6B", KHz(183648)},
	{"6C", KHz(185360)},
	{"6D", KHz(187072)},
	{"7A", KHz(188928)},
	{"7B", KHz(190640)},
	{"7C", KHz(192352)},
	{"7D", KHz(194064)},
	{"8A", KHz(195936)},
	{"8B", KHz(197648)},
	{"8C", KHz(199360)},
	{"8D", KHz(201072)},
	{"9A", KHz(202928)},
	{"9B", KHz(204640)},
	{"9C", KHz(206352)},
	{"9D", KHz(208064)},
	{"10A", KHz(209936)},
	{"10B", KHz(211648)},
	{"10C", KHz(213360)},
	{"10D", KHz(215072)},
	{"11A", KHz(216928)},
	{"11B", KHz(218640)},
	{"11C", KHz(220352)},
	{"11D", KHz(222064)},
	{"12A", KHz(223936)},
	{"12B", KHz(225648)},
	{"12C", KHz(227360)},
	{"12D", KHz(229072)},
	{"13A", KHz(230748)},
	{"13B", KHz(232496)},
	{"13C", KHz(234208)},
	{"13D", KHz(235776)},
	{"13E", KHz(237448)},
	{"13F", KHz(239200)},
}

// ChannelByName looks up a channel, ignoring case.
func ChannelByName(name string) (Channel, bool) {
	for _, ch := range Channels {
		if strings.EqualFold(ch.Name, name) {
			return ch, true
		}
	}
	return Channel{}, false
}
