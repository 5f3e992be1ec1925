package recorder

import "time"

// Format is one encoding the recorder can produce.
type Format struct {
	MimeType   string
	Container  string
	VideoCodec string
	AudioCodec string
	Extension  string
}

// Preferences is the order formats are tried in, best first.
var Preferences = []Format{
	{
		MimeType:   "video/webm;codecs=vp9,opus",
		Container:  "webm",
		VideoCodec: "libvpx-vp9",
		AudioCodec: "libopus",
		Extension:  "webm",
	},
	{
		MimeType:   "video/webm;codecs=vp8,opus",
		Container:  "webm",
		VideoCodec: "libvpx",
		AudioCodec: "libopus",
		Extension:  "webm",
	},
	{
		MimeType:   "video/webm;codecs=vp8,vorbis",
		Container:  "webm",
		VideoCodec: "libvpx",
		AudioCodec: "libvorbis",
		Extension:  "webm",
	},
	{
		MimeType:   "video/x-matroska;codecs=avc1",
		Container:  "matroska",
		VideoCodec: "libx264",
		AudioCodec: "aac",
		Extension:  "mkv",
	},
}

// SelectFormat returns the first preferred format the encoder supports.
func SelectFormat(enc Encoder) (Format, error) {
	for _, f := range Preferences {
		if enc.Supports(f) {
			return f, nil
		}
	}

	return Format{}, ErrEncodingUnsupported
}

// EncoderConfig is what the recorder asks of the encoder for one recording.
type EncoderConfig struct {
	Format             Format
	Timeslice          time.Duration
	VideoBitsPerSecond int
	AudioBitsPerSecond int
}
