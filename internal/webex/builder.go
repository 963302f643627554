package webex

import (
	"fmt"
	"strings"
	"time"

	"github.com/campusconf/backend/internal/models"
)

// Free-text length caps imposed by the vendor schema.
const (
	maxNameLen   = 400
	maxAgendaLen = 2250
)

// Start times closer than this to now are omitted from outgoing payloads so
// the vendor does not reject the whole update.
const minScheduleLead = 10 * time.Second

// dateLayout is the vendor's timestamp format (interpreted as GMT, see
// timeZoneID 20 in the schedule blocks).
const dateLayout = "01/02/2006 15:04:05"

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// escapeText entity-escapes s for embedding in an XML text node, truncating
// to max runes first.
func escapeText(s string, max int) string {
	if runes := []rune(s); len(runes) > max {
		s = string(runes[:max])
	}
	return xmlEscaper.Replace(s)
}

// MeetingDetails carries the schedulable fields of a create/update request.
type MeetingDetails struct {
	MeetingKey string // required for update, forbidden for create
	Name       string
	Agenda     string
	StartTime  time.Time
	Duration   int      // minutes
	HostUsers  []string // remote usernames granted host rights
}

// RequestBuilder builds the bodyContent XML for one remote session kind.
// A meeting owns exactly one builder, selected from its type at
// construction and fixed for its lifetime.
type RequestBuilder interface {
	BuildGetInfo(meetingKey string) string
	BuildCreate(d MeetingDetails) string
	BuildUpdate(d MeetingDetails) string
	BuildDelete(meetingKey string) string
	// ResponsePrefix is the namespace prefix of this kind's response fields.
	ResponsePrefix() string
	// KeyField is the qualified response field carrying the session key.
	KeyField() string
}

// BuilderFor returns the builder for a meeting type, or an error for kinds
// the vendor exposes but this system does not schedule.
func BuilderFor(t models.MeetingType) (RequestBuilder, error) {
	switch t {
	case models.MeetingCenter:
		return MeetingCenterBuilder{}, nil
	case models.TrainingCenter:
		return TrainingCenterBuilder{}, nil
	default:
		return nil, &ConsistencyError{Msg: fmt.Sprintf("no request builder for meeting type %q", t)}
	}
}

// scheduleBlock renders the <schedule> element. The start date is included
// only when it is comfortably in the future; a past or near-past start would
// make the vendor reject the request outright.
func scheduleBlock(d MeetingDetails, now time.Time) string {
	var b strings.Builder
	b.WriteString("<schedule>")
	if d.StartTime.After(now.Add(minScheduleLead)) {
		fmt.Fprintf(&b, "<startDate>%s</startDate>", d.StartTime.UTC().Format(dateLayout))
	}
	if d.Duration > 0 {
		fmt.Fprintf(&b, "<duration>%d</duration>", d.Duration)
	}
	b.WriteString("<timeZoneID>20</timeZoneID>")
	b.WriteString("</schedule>")
	return b.String()
}

func bodyContent(xsiType, inner string) string {
	return fmt.Sprintf(`<bodyContent xsi:type="java:com.webex.service.binding.%s">%s</bodyContent>`, xsiType, inner)
}

// --- Builders shared by both session kinds (ep:/use: families) ---

// BuildListRecordings lists recordings created inside [from, to].
func BuildListRecordings(from, to time.Time) string {
	inner := fmt.Sprintf(
		"<listControl><startFrom>1</startFrom><maximumNum>100</maximumNum></listControl>"+
			"<createTimeScope><createTimeStart>%s</createTimeStart><createTimeEnd>%s</createTimeEnd></createTimeScope>",
		from.UTC().Format(dateLayout), to.UTC().Format(dateLayout))
	return bodyContent("ep.LstRecording", inner)
}

// BuildDeleteRecording removes the provider copy of a recording artifact.
func BuildDeleteRecording(recordingID string) string {
	return bodyContent("ep.DelRecording",
		fmt.Sprintf("<recordingID>%s</recordingID>", escapeText(recordingID, maxNameLen)))
}

// BuildUpdateRecording renames a recording at the provider.
func BuildUpdateRecording(recordingID, topic string) string {
	inner := fmt.Sprintf("<recording><recordingID>%s</recordingID><basic><topic>%s</topic></basic></recording>",
		escapeText(recordingID, maxNameLen), escapeText(topic, maxNameLen))
	return bodyContent("ep.SetRecordingInfo", inner)
}

// BuildListOpenSessions queries the currently running sessions on the site.
func BuildListOpenSessions() string {
	return bodyContent("ep.LstOpenSession", "")
}

// UserDetails carries the remote account fields for user management calls.
type UserDetails struct {
	WebexID   string
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// BuildCreateUser provisions a host-capable remote account.
func BuildCreateUser(u UserDetails) string {
	inner := fmt.Sprintf(
		"<firstName>%s</firstName><lastName>%s</lastName><webExId>%s</webExId><email>%s</email><password>%s</password>"+
			"<privilege><host>true</host></privilege><active>ACTIVATED</active>",
		escapeText(u.FirstName, maxNameLen), escapeText(u.LastName, maxNameLen),
		escapeText(u.WebexID, maxNameLen), escapeText(u.Email, maxNameLen),
		escapeText(u.Password, maxNameLen))
	return bodyContent("user.CreateUser", inner)
}

// BuildGetUserInfo fetches a remote account by username.
func BuildGetUserInfo(webexID string) string {
	return bodyContent("user.GetUser",
		fmt.Sprintf("<webExId>%s</webExId>", escapeText(webexID, maxNameLen)))
}

// BuildUpdateUserPassword resets a remote account's API password.
func BuildUpdateUserPassword(webexID, password string) string {
	inner := fmt.Sprintf("<webExId>%s</webExId><password>%s</password>",
		escapeText(webexID, maxNameLen), escapeText(password, maxNameLen))
	return bodyContent("user.SetUser", inner)
}
