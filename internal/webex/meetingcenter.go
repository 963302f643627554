package webex

import (
	"fmt"
	"strings"
	"time"
)

// MeetingCenterBuilder renders meeting-center bodies (meet: response family).
type MeetingCenterBuilder struct{}

func (MeetingCenterBuilder) ResponsePrefix() string { return "meet" }

func (MeetingCenterBuilder) KeyField() string { return "meet:meetingkey" }

func (MeetingCenterBuilder) BuildGetInfo(meetingKey string) string {
	return bodyContent("meeting.GetMeeting",
		fmt.Sprintf("<meetingKey>%s</meetingKey>", escapeText(meetingKey, maxNameLen)))
}

func (b MeetingCenterBuilder) BuildCreate(d MeetingDetails) string {
	return bodyContent("meeting.CreateMeeting", b.commonFields(d, time.Now()))
}

func (b MeetingCenterBuilder) BuildUpdate(d MeetingDetails) string {
	inner := fmt.Sprintf("<meetingkey>%s</meetingkey>", escapeText(d.MeetingKey, maxNameLen)) +
		b.commonFields(d, time.Now())
	return bodyContent("meeting.SetMeeting", inner)
}

func (MeetingCenterBuilder) BuildDelete(meetingKey string) string {
	return bodyContent("meeting.DelMeeting",
		fmt.Sprintf("<meetingKey>%s</meetingKey>", escapeText(meetingKey, maxNameLen)))
}

func (MeetingCenterBuilder) commonFields(d MeetingDetails, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("<metaData>")
	fmt.Fprintf(&sb, "<confName>%s</confName>", escapeText(d.Name, maxNameLen))
	if d.Agenda != "" {
		fmt.Fprintf(&sb, "<agenda>%s</agenda>", escapeText(d.Agenda, maxAgendaLen))
	}
	sb.WriteString("</metaData>")
	sb.WriteString(scheduleBlock(d, now))
	if len(d.HostUsers) > 0 {
		sb.WriteString("<participants><attendees>")
		for _, h := range d.HostUsers {
			fmt.Fprintf(&sb,
				"<attendee><person><webExId>%s</webExId></person><role>HOST</role></attendee>",
				escapeText(h, maxNameLen))
		}
		sb.WriteString("</attendees></participants>")
	}
	sb.WriteString("<attendeeOptions><joinRequiresAccount>false</joinRequiresAccount></attendeeOptions>")
	return sb.String()
}
