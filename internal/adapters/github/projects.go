package github

import (
	"context"
	"fmt"

	"github.com/justynbrt/ghoo/internal/core"
)

// StatusFieldName is the single-select field carrying workflow status on a
// project board.
const StatusFieldName = "Status"

// FindProjectID resolves a Projects V2 board to its node ID.
func (c *GraphQLClient) FindProjectID(ctx context.Context, isOrg bool, owner string, number int) (string, error) {
	var query string
	if isOrg {
		query = `
		query FindOrgProject($owner: String!, $number: Int!) {
			organization(login: $owner) {
				projectV2(number: $number) { id }
			}
		}`
	} else {
		query = `
		query FindUserProject($owner: String!, $number: Int!) {
			user(login: $owner) {
				projectV2(number: $number) { id }
			}
		}`
	}
	var out struct {
		Organization *struct {
			ProjectV2 *struct {
				ID string `json:"id"`
			} `json:"projectV2"`
		} `json:"organization"`
		User *struct {
			ProjectV2 *struct {
				ID string `json:"id"`
			} `json:"projectV2"`
		} `json:"user"`
	}
	if err := c.Query(ctx, query, map[string]any{"owner": owner, "number": number}, &out); err != nil {
		return "", err
	}
	switch {
	case out.Organization != nil && out.Organization.ProjectV2 != nil:
		return out.Organization.ProjectV2.ID, nil
	case out.User != nil && out.User.ProjectV2 != nil:
		return out.User.ProjectV2.ID, nil
	}
	return "", core.ErrRemote(codeNotFound,
		fmt.Sprintf("project %d not found for %s", number, owner))
}

// ProjectStatusField returns the ID of the board's Status single-select
// field and its options by name.
func (c *GraphQLClient) ProjectStatusField(ctx context.Context, projectID string) (string, map[string]string, error) {
	const query = `
	query GetProjectFields($projectId: ID!) {
		node(id: $projectId) {
			... on ProjectV2 {
				fields(first: 50) {
					nodes {
						... on ProjectV2SingleSelectField {
							id
							name
							options { id name }
						}
					}
				}
			}
		}
	}`
	var out struct {
		Node *struct {
			Fields struct {
				Nodes []struct {
					ID      string `json:"id"`
					Name    string `json:"name"`
					Options []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"options"`
				} `json:"nodes"`
			} `json:"fields"`
		} `json:"node"`
	}
	if err := c.Query(ctx, query, map[string]any{"projectId": projectID}, &out); err != nil {
		return "", nil, err
	}
	if out.Node != nil {
		for _, f := range out.Node.Fields.Nodes {
			if f.Name != StatusFieldName {
				continue
			}
			options := make(map[string]string, len(f.Options))
			for _, opt := range f.Options {
				options[opt.Name] = opt.ID
			}
			return f.ID, options, nil
		}
	}
	return "", nil, core.ErrFeatureUnavailable("projects_v2",
		fmt.Sprintf("project has no %s single-select field", StatusFieldName))
}

// ProjectItem finds the board item holding an issue, with its current
// status option name. Empty item ID means the issue is not on the board.
func (c *GraphQLClient) ProjectItem(ctx context.Context, issueNodeID, projectID string) (itemID, status string, err error) {
	const query = `
	query GetProjectItem($id: ID!) {
		node(id: $id) {
			... on Issue {
				projectItems(first: 20) {
					nodes {
						id
						project { id }
						fieldValueByName(name: "Status") {
							... on ProjectV2ItemFieldSingleSelectValue { name }
						}
					}
				}
			}
		}
	}`
	var out struct {
		Node *struct {
			ProjectItems struct {
				Nodes []struct {
					ID      string `json:"id"`
					Project struct {
						ID string `json:"id"`
					} `json:"project"`
					FieldValueByName *struct {
						Name string `json:"name"`
					} `json:"fieldValueByName"`
				} `json:"nodes"`
			} `json:"projectItems"`
		} `json:"node"`
	}
	if err := c.Query(ctx, query, map[string]any{"id": issueNodeID}, &out); err != nil {
		return "", "", err
	}
	if out.Node == nil {
		return "", "", nil
	}
	for _, item := range out.Node.ProjectItems.Nodes {
		if item.Project.ID != projectID {
			continue
		}
		if item.FieldValueByName != nil {
			return item.ID, item.FieldValueByName.Name, nil
		}
		return item.ID, "", nil
	}
	return "", "", nil
}

// AddItemToProject puts an issue on the board and returns the item ID.
func (c *GraphQLClient) AddItemToProject(ctx context.Context, projectID, contentID string) (string, error) {
	const mutation = `
	mutation AddProjectItem($projectId: ID!, $contentId: ID!) {
		addProjectV2ItemById(input: {projectId: $projectId, contentId: $contentId}) {
			item { id }
		}
	}`
	var out struct {
		AddProjectV2ItemByID struct {
			Item struct {
				ID string `json:"id"`
			} `json:"item"`
		} `json:"addProjectV2ItemById"`
	}
	vars := map[string]any{"projectId": projectID, "contentId": contentID}
	if err := c.Mutate(ctx, mutation, vars, &out); err != nil {
		return "", err
	}
	return out.AddProjectV2ItemByID.Item.ID, nil
}

// UpdateProjectItemStatus moves a board item to a status option.
func (c *GraphQLClient) UpdateProjectItemStatus(ctx context.Context, projectID, itemID, fieldID, optionID string) error {
	const mutation = `
	mutation UpdateProjectV2ItemFieldValue($projectId: ID!, $itemId: ID!, $fieldId: ID!, $optionId: String!) {
		updateProjectV2ItemFieldValue(input: {
			projectId: $projectId
			itemId: $itemId
			fieldId: $fieldId
			value: { singleSelectOptionId: $optionId }
		}) {
			projectV2Item { id }
		}
	}`
	vars := map[string]any{
		"projectId": projectID,
		"itemId":    itemID,
		"fieldId":   fieldID,
		"optionId":  optionID,
	}
	return c.Mutate(ctx, mutation, vars, nil)
}
