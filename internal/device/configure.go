package device

import (
	"github.com/rs/zerolog"
)

// DefaultFormatPreference is the order pixel formats are tried in. BGR8
// needs no conversion, RGB8 needs a channel swap, Bayer needs demosaicing.
var DefaultFormatPreference = []PixelFormat{
	PixelFormatBGR8,
	PixelFormatRGB8,
	PixelFormatBayerRG8,
}

// Settings are the user-facing acquisition parameters.
type Settings struct {
	ExposureMS float64
	Gain       float64
	// FrameRate caps the sensor rate in frames per second. Zero runs the
	// sensor as fast as it can.
	FrameRate float64
	// Formats overrides DefaultFormatPreference when non-empty.
	Formats []PixelFormat
}

// Applied records what Configure actually wrote to the device.
type Applied struct {
	PixelFormat   PixelFormat `json:"-"`
	FormatName    string      `json:"pixel_format"`
	ExposureUS    float64     `json:"exposure_us"`
	ExposureRange *FloatRange `json:"exposure_range,omitempty"`
	Gain          float64     `json:"gain"`
	GainRange     *FloatRange `json:"gain_range,omitempty"`
	FrameRate     float64     `json:"frame_rate,omitempty"`
	Warnings      []string    `json:"warnings,omitempty"`
}

// Configure puts the device into free-running continuous acquisition and
// applies s. Every step is skipped when the device does not implement the
// feature, and a step that fails is recorded as a warning; Configure never
// aborts camera setup.
func Configure(h Handle, s Settings, log *zerolog.Logger) Applied {
	c := configurer{h: h, log: log}

	log.Info().
		Float64("exposure_ms", s.ExposureMS).
		Float64("gain", s.Gain).
		Msg("Configuring camera")

	c.setEnum(FeatureTriggerMode, TriggerModeOff, "Trigger mode set to off")
	c.setEnum(FeatureAcquisitionMode, AcquisitionModeContinuous, "Acquisition mode set to continuous")
	c.frameRate(s.FrameRate)
	c.pixelFormat(s.Formats)

	if r, ok := c.floatRange(FeatureExposureTime); ok {
		us := r.Clamp(s.ExposureMS * 1000)
		c.applied.ExposureRange = &r
		if c.setFloat(FeatureExposureTime, us) {
			c.applied.ExposureUS = us
		}
	}
	if r, ok := c.floatRange(FeatureGain); ok {
		gain := r.Clamp(s.Gain)
		c.applied.GainRange = &r
		if c.setFloat(FeatureGain, gain) {
			c.applied.Gain = gain
		}
	}

	log.Info().
		Str("pixel_format", c.applied.FormatName).
		Float64("exposure_us", c.applied.ExposureUS).
		Float64("gain", c.applied.Gain).
		Int("warnings", len(c.applied.Warnings)).
		Msg("Camera configuration completed")
	return c.applied
}

type configurer struct {
	h       Handle
	log     *zerolog.Logger
	applied Applied
}

func (c *configurer) warn(f Feature, err error) {
	c.log.Warn().Err(err).Stringer("feature", f).Msg("Failed to set feature")
	c.applied.Warnings = append(c.applied.Warnings, f.String()+": "+err.Error())
}

func (c *configurer) setEnum(f Feature, v int64, done string) bool {
	if !c.h.Implements(f) {
		return false
	}
	if err := c.h.SetEnum(f, v); err != nil {
		c.warn(f, err)
		return false
	}
	c.log.Debug().Msg(done)
	return true
}

func (c *configurer) floatRange(f Feature) (FloatRange, bool) {
	if !c.h.Implements(f) {
		return FloatRange{}, false
	}
	r, err := c.h.FloatRange(f)
	if err != nil {
		c.warn(f, err)
		return FloatRange{}, false
	}
	c.log.Info().
		Stringer("feature", f).
		Float64("min", r.Min).
		Float64("max", r.Max).
		Msg("Feature range")
	return r, true
}

func (c *configurer) setFloat(f Feature, v float64) bool {
	if err := c.h.SetFloat(f, v); err != nil {
		c.warn(f, err)
		return false
	}
	c.log.Debug().Stringer("feature", f).Float64("value", v).Msg("Feature set")
	return true
}

func (c *configurer) frameRate(fps float64) {
	if fps <= 0 {
		c.setEnum(FeatureFrameRateMode, FrameRateModeOff, "Frame rate limiter disabled")
		return
	}
	if !c.setEnum(FeatureFrameRateMode, FrameRateModeOn, "Frame rate limiter enabled") {
		return
	}
	if r, ok := c.floatRange(FeatureFrameRate); ok {
		fps = r.Clamp(fps)
		if c.setFloat(FeatureFrameRate, fps) {
			c.applied.FrameRate = fps
		}
	}
}

func (c *configurer) pixelFormat(prefs []PixelFormat) {
	if len(prefs) == 0 {
		prefs = DefaultFormatPreference
	}
	if !c.h.Implements(FeaturePixelFormat) {
		return
	}
	for _, pf := range prefs {
		err := c.h.SetEnum(FeaturePixelFormat, int64(pf))
		if err == nil {
			c.applied.PixelFormat = pf
			c.applied.FormatName = pf.String()
			c.log.Info().Stringer("pixel_format", pf).Msg("Pixel format set")
			return
		}
		c.log.Debug().Err(err).Stringer("pixel_format", pf).Msg("Pixel format rejected")
	}
	c.log.Warn().Msg("No preferred pixel format accepted, keeping device default")
	c.applied.Warnings = append(c.applied.Warnings, "PixelFormat: no preferred format accepted")
}
