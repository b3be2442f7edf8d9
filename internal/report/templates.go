package report

const pageHead = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; }
        table { border-collapse: collapse; width: 100%; margin-bottom: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; vertical-align: top; }
        th { background-color: #f2f2f2; }
        tr:nth-child(even) { background-color: #f9f9f9; }
        .violations { white-space: pre-wrap; font-family: monospace; font-size: 12px; }
    </style>
</head>
<body>`

const errorReportTemplate = `{{define "errorReport"}}` + pageHead + `
    <h1>Integration error report</h1>
    <p>Generated: {{formatTime .GeneratedAt}}</p>
    <p>Period from: {{formatTime .From}}</p>
    <p>Total packages: {{.Total}}</p>

    <h2>Summary by document type</h2>
    <table>
        <thead>
            <tr><th>Document type</th><th>Count</th></tr>
        </thead>
        <tbody>
        {{- range .Summary}}
            <tr><td>{{.DocumentType}}</td><td>{{.Amount}}</td></tr>
        {{- end}}
        </tbody>
    </table>

    <h2>Details</h2>
    <table>
        <thead>
            <tr>
                <th>Procedure</th>
                <th>Document type</th>
                <th>Error</th>
                <th>Direction</th>
                <th>Last sent</th>
            </tr>
        </thead>
        <tbody>
        {{- range .Packages}}
            <tr>
                <td>{{.ObjectID}}</td>
                <td>{{.DocumentType}}</td>
                <td class="violations">{{.Violations}}</td>
                <td>{{.Direction}}</td>
                <td>{{formatTimePtr .LastSendDate}}</td>
            </tr>
        {{- end}}
        </tbody>
    </table>
</body>
</html>
{{end}}`

const procedureTemplate = `{{define "procedure"}}` + pageHead + `
    <h1>Procedure report</h1>
    <p><b>Documents for procedure: {{.ProcedureID}}</b></p>
    <p><i>Total documents: {{len .Documents}}</i></p>
    <p>Generated: {{formatTime .GeneratedAt}}</p>

    <h2>Details</h2>
    <table>
        <thead>
            <tr>
                <th>Type</th>
                <th>Protocol number</th>
                <th>Direction</th>
                <th>State</th>
                <th>State name</th>
                <th>Created</th>
                <th>Sent</th>
                <th>Waiting</th>
                <th>Errors</th>
            </tr>
        </thead>
        <tbody>
        {{- range .Documents}}
            <tr>
                <td>{{.DocType}}</td>
                <td>{{deref .ProtocolNumber}}</td>
                <td>{{.Direction}}</td>
                <td>{{.State}}</td>
                <td>{{stateName .State}}</td>
                <td>{{formatTime .CreateDate}}</td>
                <td>{{formatTimePtr .LastSendDate}}</td>
                <td>{{deref .WaitingDescription}}</td>
                <td class="violations">{{.Violations}}</td>
            </tr>
        {{- end}}
        </tbody>
    </table>
</body>
</html>
{{end}}`

// procedureSummaryTemplate is Telegram HTML, converted to plain text before
// sending so that document payloads cannot break the message markup.
const procedureSummaryTemplate = `{{define "procedureSummary"}}<p><b>Procedure {{.ProcedureID}}</b></p>
<p>Documents: {{len .Documents}}</p>
<ul>
{{- range .Documents}}
<li>{{.DocType}} | {{deref .ProtocolNumber}} | {{.Direction}} | {{stateName .State}} | {{formatTimePtr .LastSendDate}}</li>
{{- end}}
</ul>
{{end}}`
