package watch

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"chatmon/pkg/models"
)

const (
	// maxSubjectLen bounds plain-text subjects, matching the record
	// system's field limit.
	maxSubjectLen = 200

	dueDateLayout = "2006-01-02"
)

var (
	subjectRe     = regexp.MustCompile(`(?i)Subject:[ \t]*([^\n]+)`)
	descriptionRe = regexp.MustCompile(`(?i)Description:[ \t]*([^\n]+)`)
	priorityRe    = regexp.MustCompile(`(?i)Priority:[ \t]*([^\n]+)`)
	dueDateRe     = regexp.MustCompile(`(?i)Due date:[ \t]*([^\n]+)`)
	assignedToRe  = regexp.MustCompile(`(?i)Assigned To:[ \t]*([^\n]+)`)
)

// StripTag removes the trigger tag (and trailing whitespace) from a
// message body.
func StripTag(tag, content string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(tag) + `\s*`)
	return strings.TrimSpace(re.ReplaceAllString(content, ""))
}

// ParseTaskDetails extracts the line template from a tagged message. A
// Subject: line makes the template valid; the other lines are optional.
// HasDetails is false when no template is present.
func ParseTaskDetails(tag, content string, now time.Time) models.TaskDetails {
	clean := StripTag(tag, content)
	var d models.TaskDetails

	m := subjectRe.FindStringSubmatch(clean)
	if m == nil {
		return d
	}
	d.HasDetails = true
	d.Subject = strings.TrimSpace(m[1])

	if m := descriptionRe.FindStringSubmatch(clean); m != nil {
		d.Description = strings.TrimSpace(m[1])
	}
	if m := priorityRe.FindStringSubmatch(clean); m != nil {
		d.Priority = NormalizePriority(m[1])
	}
	if m := dueDateRe.FindStringSubmatch(clean); m != nil {
		d.DueDate = ResolveDueDate(m[1], now)
	}
	if m := assignedToRe.FindStringSubmatch(clean); m != nil {
		d.AssignedTo = strings.TrimSpace(m[1])
	}
	return d
}

// SimpleTask builds a task from untemplated text: the cleaned content is
// the subject (truncated) and the description.
func SimpleTask(clean string) models.TaskDetails {
	subject := clean
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}
	return models.TaskDetails{
		Subject:     subject,
		Description: clean,
		Priority:    "Medium",
		HasDetails:  true,
	}
}

// NormalizePriority maps free text to Low/Medium/High, defaulting Medium.
func NormalizePriority(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return "Low"
	case "medium":
		return "Medium"
	case "high":
		return "High"
	}
	return "Medium"
}

// ResolveDueDate turns the relative date words into yyyy-mm-dd; anything
// else passes through verbatim.
func ResolveDueDate(s string, now time.Time) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "today":
		return now.Format(dueDateLayout)
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(dueDateLayout)
	case "next week":
		return now.AddDate(0, 0, 7).Format(dueDateLayout)
	}
	return strings.TrimSpace(s)
}

// TaskHelpText is sent in reply to an empty task-tag message.
func TaskHelpText(tag string) string {
	return "To create a task, use one of these formats:\n\n" +
		"1. Simple: " + tag + " Your task description here\n\n" +
		"2. Detailed:\n" +
		tag + "\n" +
		"Subject: Task title\n" +
		"Description: Task details\n" +
		"Priority: Low/Medium/High\n" +
		"Due date: YYYY-MM-DD, today, tomorrow, or next week\n" +
		"Assigned To: username or email"
}

// FormatTaskSuccess renders the full success notice for templated tasks.
func FormatTaskSuccess(d models.TaskDetails, r models.TaskResult) string {
	orDefault := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return fmt.Sprintf(
		"Task created successfully!\n\n"+
			"Task ID: %s\n"+
			"Subject: %s\n"+
			"Priority: %s\n"+
			"Due Date: %s\n"+
			"Assigned To: %s\n\n"+
			"View task: %s",
		orDefault(r.TaskID, "Unknown"),
		orDefault(d.Subject, "No subject"),
		orDefault(d.Priority, "Medium"),
		orDefault(d.DueDate, "Not set"),
		orDefault(d.AssignedTo, "Unassigned"),
		r.TaskURL)
}

// FormatSimpleTaskSuccess renders the short success notice for plain-text
// tasks.
func FormatSimpleTaskSuccess(d models.TaskDetails, r models.TaskResult) string {
	id := r.TaskID
	if id == "" {
		id = "Unknown"
	}
	return fmt.Sprintf(
		"Task created successfully!\n\nTask ID: %s\nSubject: %s\n\nView task: %s",
		id, d.Subject, r.TaskURL)
}

// FormatTaskError renders the failure notice.
func FormatTaskError(err error) string {
	return fmt.Sprintf(
		"Failed to create task in ERP system.\nError: %v\n\nPlease check the configuration or contact support.",
		err)
}
