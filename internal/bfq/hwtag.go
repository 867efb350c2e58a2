package bfq

// hwQueueSamples is the number of completions the hw_tag detector
// observes before it commits to a verdict.
const hwQueueSamples = 32

// hwTagDetector estimates whether the device supports tagged (multiple
// outstanding) command queuing, by watching the running max of
// in-driver request count across completions.
type hwTagDetector struct {
	samples   int
	maxSeen   int
	confirmed bool
	tag       bool
}

// const threshold below which the device is assumed not to support
// concurrent outstanding requests.
const hwTagThreshold = 4

func (d *hwTagDetector) observe(inDriver int) {
	if d.confirmed {
		return
	}
	if inDriver > d.maxSeen {
		d.maxSeen = inDriver
	}
	d.samples++
	if d.samples >= hwQueueSamples {
		d.tag = d.maxSeen > hwTagThreshold
		d.confirmed = true
	}
}

func (d *hwTagDetector) hwTag() bool { return d.tag }
