package access

import (
	"strings"

	"subsidypay/internal/backend"
)

// ServiceTask is one sponsor campaign that can subsidize a service.
type ServiceTask struct {
	CampaignID         string   `json:"campaign_id"`
	CampaignName       string   `json:"campaign_name"`
	Sponsor            string   `json:"sponsor"`
	RequiredTask       string   `json:"required_task"`
	SubsidyAmountCents uint64   `json:"subsidy_amount_cents"`
	Category           []string `json:"category"`
	Tags               []string `json:"tags"`
	Active             bool     `json:"active"`
}

// ServiceTasks aggregates the campaigns sponsoring one service.
type ServiceTasks struct {
	ServiceKey        string        `json:"service_key"`
	DisplayName       string        `json:"display_name"`
	Tasks             []ServiceTask `json:"tasks"`
	TaskCount         int           `json:"task_count"`
	SponsorNames      []string      `json:"sponsor_names"`
	TotalSubsidyCents uint64        `json:"total_subsidy_cents"`
}

// MatchServiceTasks collects the campaigns in a catalog search that sponsor
// service. Pre-aggregated candidate offers keyed by the service win; otherwise
// campaign entries whose name contains the service are used. Matching is
// case-insensitive.
func MatchServiceTasks(service string, resp *backend.SearchResponse) ServiceTasks {
	if result, ok := candidateTasks(service, resp); ok {
		return result
	}
	return namedTasks(service, resp)
}

// ActiveServiceTask picks the first active campaign sponsoring service.
// Candidate offers are tried first; when none of them is active the
// name-matched campaign entries are searched.
func ActiveServiceTask(service string, resp *backend.SearchResponse) (ServiceTask, bool) {
	if result, ok := candidateTasks(service, resp); ok {
		if task, ok := result.FirstActive(); ok {
			return task, true
		}
	}
	return namedTasks(service, resp).FirstActive()
}

func emptyTasks(service string) ServiceTasks {
	return ServiceTasks{
		ServiceKey:   service,
		DisplayName:  service,
		Tasks:        []ServiceTask{},
		SponsorNames: []string{},
	}
}

func serviceKey(service string) string {
	return strings.ToLower(strings.TrimSpace(service))
}

// candidateTasks aggregates the offers of the first candidate entry keyed by
// service. ok is false when no candidate with offers matches.
func candidateTasks(service string, resp *backend.SearchResponse) (ServiceTasks, bool) {
	result := emptyTasks(service)
	key := serviceKey(service)
	if resp == nil || key == "" {
		return result, false
	}

	byID := make(map[string]backend.ServiceItem, len(resp.Services))
	for _, svc := range resp.Services {
		byID[svc.ServiceID] = svc
	}

	for _, candidate := range resp.CandidateServices {
		if strings.ToLower(candidate.ServiceKey) != key || len(candidate.Offers) == 0 {
			continue
		}
		if candidate.DisplayName != "" {
			result.DisplayName = candidate.DisplayName
		}
		for _, offer := range candidate.Offers {
			task := ServiceTask{
				CampaignID:         offer.CampaignID,
				CampaignName:       offer.CampaignName,
				Sponsor:            offer.Sponsor,
				RequiredTask:       offer.RequiredTask,
				SubsidyAmountCents: offer.SubsidyAmountCents,
				Category:           []string{},
				Tags:               []string{},
				Active:             true,
			}
			if raw, ok := byID[offer.CampaignID]; ok {
				task.Category = nonNil(raw.Category)
				task.Tags = nonNil(raw.Tags)
				task.Active = raw.Active
			}
			result.Tasks = append(result.Tasks, task)
		}
		return finish(result), true
	}
	return result, false
}

// namedTasks collects campaign entries whose name contains service.
func namedTasks(service string, resp *backend.SearchResponse) ServiceTasks {
	result := emptyTasks(service)
	key := serviceKey(service)
	if resp == nil || key == "" {
		return result
	}
	for _, svc := range resp.Services {
		if svc.ServiceType != "campaign" || !strings.Contains(strings.ToLower(svc.Name), key) {
			continue
		}
		result.Tasks = append(result.Tasks, ServiceTask{
			CampaignID:         svc.ServiceID,
			CampaignName:       svc.Name,
			Sponsor:            svc.Sponsor,
			RequiredTask:       svc.RequiredTask,
			SubsidyAmountCents: svc.SubsidyAmountCents,
			Category:           nonNil(svc.Category),
			Tags:               nonNil(svc.Tags),
			Active:             svc.Active,
		})
	}
	return finish(result)
}

// FirstActive returns the first active task.
func (s ServiceTasks) FirstActive() (ServiceTask, bool) {
	for _, task := range s.Tasks {
		if task.Active {
			return task, true
		}
	}
	return ServiceTask{}, false
}

func finish(result ServiceTasks) ServiceTasks {
	seen := make(map[string]struct{})
	for _, task := range result.Tasks {
		result.TotalSubsidyCents += task.SubsidyAmountCents
		if _, ok := seen[task.Sponsor]; ok {
			continue
		}
		seen[task.Sponsor] = struct{}{}
		result.SponsorNames = append(result.SponsorNames, task.Sponsor)
	}
	result.TaskCount = len(result.Tasks)
	return result
}

// TaskOptions flattens a task's declared type and required field names into
// a deduplicated list of hints, dropping empties.
func TaskOptions(format backend.TaskInputFormat) []string {
	options := make([]string, 0, len(format.RequiredFields)+1)
	seen := make(map[string]struct{}, len(format.RequiredFields)+1)
	for _, candidate := range append([]string{format.TaskType}, format.RequiredFields...) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		options = append(options, candidate)
	}
	return options
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
