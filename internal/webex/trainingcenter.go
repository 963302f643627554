package webex

import (
	"fmt"
	"strings"
	"time"
)

// TrainingCenterBuilder renders training-session bodies (train: response
// family). Field names and operation tags differ from meeting center even
// where the semantics match.
type TrainingCenterBuilder struct{}

func (TrainingCenterBuilder) ResponsePrefix() string { return "train" }

func (TrainingCenterBuilder) KeyField() string { return "train:sessionkey" }

func (TrainingCenterBuilder) BuildGetInfo(meetingKey string) string {
	return bodyContent("training.GetTrainingSession",
		fmt.Sprintf("<sessionKey>%s</sessionKey>", escapeText(meetingKey, maxNameLen)))
}

func (b TrainingCenterBuilder) BuildCreate(d MeetingDetails) string {
	return bodyContent("training.CreateTrainingSession", b.commonFields(d, time.Now()))
}

func (b TrainingCenterBuilder) BuildUpdate(d MeetingDetails) string {
	inner := fmt.Sprintf("<sessionKey>%s</sessionKey>", escapeText(d.MeetingKey, maxNameLen)) +
		b.commonFields(d, time.Now())
	return bodyContent("training.SetTrainingSession", inner)
}

func (TrainingCenterBuilder) BuildDelete(meetingKey string) string {
	return bodyContent("training.DelTrainingSession",
		fmt.Sprintf("<sessionKey>%s</sessionKey>", escapeText(meetingKey, maxNameLen)))
}

func (TrainingCenterBuilder) commonFields(d MeetingDetails, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("<accessControl><enrollment>false</enrollment></accessControl>")
	sb.WriteString("<metaData>")
	fmt.Fprintf(&sb, "<confName>%s</confName>", escapeText(d.Name, maxNameLen))
	if d.Agenda != "" {
		fmt.Fprintf(&sb, "<agenda>%s</agenda>", escapeText(d.Agenda, maxAgendaLen))
	}
	sb.WriteString("</metaData>")
	sb.WriteString(scheduleBlock(d, now))
	if len(d.HostUsers) > 0 {
		sb.WriteString("<presenters><participants>")
		for _, h := range d.HostUsers {
			fmt.Fprintf(&sb,
				"<participant><person><webExId>%s</webExId></person><role>HOST</role></participant>",
				escapeText(h, maxNameLen))
		}
		sb.WriteString("</participants></presenters>")
	}
	return sb.String()
}
